package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeroxmods/certmint/config"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/payment"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/pkg/database"
	"github.com/zeroxmods/certmint/pkg/errs"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func check(err error) {
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

// instantGateway 不访问 Paystack，只测下单与扣库存路径
type instantGateway struct{ delay time.Duration }

func (g instantGateway) InitializeTransaction(_ context.Context, req payment.InitRequest) (*payment.InitResult, error) {
	time.Sleep(g.delay)
	return &payment.InitResult{AuthorizationURL: "https://checkout.bench/" + req.Reference, Reference: req.Reference}, nil
}

func (instantGateway) VerifyTransaction(context.Context, string) (*payment.Transaction, error) {
	return nil, errs.Ef(errs.InvalidInput, "bench.VerifyTransaction", "not supported")
}

func (instantGateway) VerifyWebhookSignature(string, []byte) bool { return false }

type noWake struct{}

func (noWake) Wake() {}

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

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	check(database.Migrate(db))

	N := envInt("N", 2000)
	CONC := envInt("CONC", 32)
	STOCK := envInt("STOCK", 100)
	gwDelay := time.Duration(envInt("GW_DELAY_MS", 1)) * time.Millisecond

	ctx := context.Background()
	store := repository.NewOrderStore(db)
	catalog := repository.NewCatalogRepository(db)
	svc := service.NewCheckoutService(store, catalog, instantGateway{delay: gwDelay}, noWake{})

	artist := &model.User{ID: uuid.NewString(), Name: "bench artist", Role: "artist"}
	artist.Email = artist.ID[:8] + "@artist.bench"
	check(catalog.CreateUser(ctx, artist))
	art := &model.Artwork{
		ID: uuid.NewString(), ArtistID: artist.ID, Title: "bench edition", Type: model.ArtworkPhysical,
		PriceCents: 100000, Currency: "NGN", TotalQuantity: STOCK, AvailableQuantity: STOCK,
	}
	check(catalog.CreateArtwork(ctx, art))

	buyers := make([]*model.User, N)
	for i := range buyers {
		id := uuid.NewString()
		buyers[i] = &model.User{ID: id, Name: "buyer " + id[:8], Email: id[:8] + "@buyer.bench", Role: "buyer"}
		check(catalog.CreateUser(ctx, buyers[i]))
	}

	workers := CONC
	if workers > N {
		workers = N
	}
	var okCount, soldOut, failed atomic.Int64
	lat := make(chan time.Duration, N)
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)

	t0 := time.Now()
	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for i := range feed {
				st := time.Now()
				_, err := svc.Checkout(ctx, service.CheckoutRequest{ArtworkID: art.ID, BuyerID: buyers[i].ID})
				lat <- time.Since(st)
				switch {
				case err == nil:
					okCount.Add(1)
				case errs.Is(err, errs.OutOfStock):
					soldOut.Add(1)
				default:
					failed.Add(1)
				}
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	total := time.Since(t0)
	close(lat)
	recs := make([]time.Duration, 0, N)
	for d := range lat {
		recs = append(recs, d)
	}

	after := must(catalog.GetArtwork(ctx, art.ID))
	var orders int64
	check(db.Model(&model.Order{}).Where("artwork_id = ? AND order_status <> ?", art.ID, model.OrderFailed).Count(&orders).Error)

	fmt.Printf("N=%d, CONC=%d, STOCK=%d, GW_DELAY=%v\n", N, CONC, STOCK, gwDelay)
	fmt.Printf("Checkout total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		total, total/time.Duration(N), pct(recs, 0.50), pct(recs, 0.95), pct(recs, 0.99))
	fmt.Printf("Result: ok=%d, sold_out=%d, failed=%d\n", okCount.Load(), soldOut.Load(), failed.Load())
	oversold := int64(STOCK-after.AvailableQuantity) != orders || orders > int64(STOCK)
	fmt.Printf("Stock: available=%d, live orders=%d, oversold=%v\n", after.AvailableQuantity, orders, oversold)
	if oversold {
		os.Exit(1)
	}
}
