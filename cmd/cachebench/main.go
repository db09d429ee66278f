package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zeroxmods/certmint/config"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/pkg/database"
)

// 证书查询读压测：无缓存 vs redis read-through。
// 80% 的请求落在 20% 的热门订单上。

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

// seedCompleted 直接通过 store 写入已完成的订单与两枚证书
func seedCompleted(ctx context.Context, store repository.OrderStore, catalog repository.CatalogRepository, n int) []string {
	artist := &model.User{ID: uuid.NewString(), Name: "bench artist", Role: "artist"}
	artist.Email = artist.ID[:8] + "@artist.bench"
	mustDo(catalog.CreateUser(ctx, artist))
	art := &model.Artwork{
		ID: uuid.NewString(), ArtistID: artist.ID, Title: "bench series", Type: model.ArtworkDigital,
		PriceCents: 2500000, Currency: "NGN", TotalQuantity: n, AvailableQuantity: n,
	}
	mustDo(catalog.CreateArtwork(ctx, art))

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		buyer := &model.User{ID: uuid.NewString(), Name: fmt.Sprintf("collector %d", i), Role: "buyer"}
		buyer.Email = buyer.ID[:8] + "@collector.bench"
		mustDo(catalog.CreateUser(ctx, buyer))

		o := &model.Order{
			ID: uuid.NewString(), BuyerID: buyer.ID, ArtworkID: art.ID,
			AmountCents: art.PriceCents, Currency: art.Currency, PaymentProvider: "paystack",
			PaymentStatus: model.PaymentPending, OrderStatus: model.OrderCreated,
			Reference: "zx_bench_" + uuid.NewString()[:12],
		}
		mustDo(store.CreateOrder(ctx, o))
		must(store.MarkPaid(ctx, o.ID, time.Now()))
		must(store.BeginMinting(ctx, o.ID))
		now := time.Now()
		must(store.UpsertAuthenticityToken(ctx, &model.AuthenticityToken{
			OrderID: o.ID, HederaTokenID: "0.0.7001", SerialNumber: int64(i + 1),
			HederaTxHash: fmt.Sprintf("0.0.2@%d.%09d", now.Unix(), i), MetadataIPFSURI: "ipfs://bafyauth" + o.ID[:8], MintedAt: now,
		}))
		must(store.UpsertOwnershipToken(ctx, &model.OwnershipToken{
			OrderID: o.ID, HederaTokenID: "0.0.7002", SerialNumber: int64(i + 1), Fractions: 1,
			HederaTxHash: fmt.Sprintf("0.0.2@%d.%09d", now.Unix(), n+i), MetadataIPFSURI: "ipfs://bafyown" + o.ID[:8], MintedAt: now,
		}))
		mustDo(store.CompleteOrder(ctx, o.ID))
		ids[i] = o.ID
	}
	return ids
}

func run(ctx context.Context, name string, svc *service.CertificateService, ids []string, reads int, rng *rand.Rand) {
	hot := len(ids) / 5
	if hot == 0 {
		hot = 1
	}
	recs := make([]time.Duration, 0, reads)
	misses := 0
	t0 := time.Now()
	for i := 0; i < reads; i++ {
		var id string
		if rng.Float64() < 0.8 {
			id = ids[rng.Intn(hot)]
		} else {
			id = ids[rng.Intn(len(ids))]
		}
		st := time.Now()
		if _, err := svc.GetByOrder(ctx, id); err != nil {
			misses++
		}
		recs = append(recs, time.Since(st))
	}
	total := time.Since(t0)
	fmt.Printf("%-14s total=%v qps=%.0f p50=%v p95=%v p99=%v errors=%d\n",
		name, total, float64(reads)/total.Seconds(), pct(recs, 0.50), pct(recs, 0.95), pct(recs, 0.99), misses)
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	mustDo(rdb.Ping(ctx).Err())

	orders := envInt("ORDERS", 2000)
	reads := envInt("READS", 20000)

	store := repository.NewOrderStore(db)
	catalog := repository.NewCatalogRepository(db)

	fmt.Printf("Seeding %d completed orders...\n", orders)
	ids := seedCompleted(ctx, store, catalog, orders)
	for _, id := range ids {
		_ = rdb.Del(ctx, "certificate:"+id).Err()
	}

	uncached := service.NewCertificateService(store, catalog, nil, nil, 0, cfg.Pinning.GatewayURL)
	cached := service.NewCertificateService(store, catalog, nil, rdb, cfg.Cache.CertificateTTL, cfg.Pinning.GatewayURL)

	fmt.Printf("ORDERS=%d, READS=%d, TTL=%v\n", orders, reads, cfg.Cache.CertificateTTL)
	run(ctx, "no-cache", uncached, ids, reads, rand.New(rand.NewSource(1)))
	run(ctx, "redis-cold", cached, ids, reads, rand.New(rand.NewSource(1)))
	run(ctx, "redis-warm", cached, ids, reads, rand.New(rand.NewSource(1)))
}
