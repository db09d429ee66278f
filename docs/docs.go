// Package docs registers the OpenAPI document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/health": {"get": {"tags": ["system"], "summary": "健康检查", "responses": {"200": {"description": "OK"}, "503": {"description": "unhealthy"}}}},
        "/payments/checkout": {"post": {"tags": ["payments"], "summary": "下单", "responses": {"200": {"description": "OK"}, "400": {"description": "bad request"}, "409": {"description": "out of stock"}, "503": {"description": "gateway unavailable"}}}},
        "/payments/webhook": {"post": {"tags": ["payments"], "summary": "Paystack webhook", "responses": {"200": {"description": "OK"}, "401": {"description": "invalid signature"}}}},
        "/payments/verify/{reference}": {"post": {"tags": ["payments"], "summary": "校验支付", "parameters": [{"type": "string", "name": "reference", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "not found"}}}},
        "/payments/test/complete/{reference}": {"post": {"tags": ["payments"], "security": [{"BearerAuth": []}], "summary": "测试支付完成", "parameters": [{"type": "string", "name": "reference", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/ownership/order/{orderId}": {"get": {"tags": ["ownership"], "summary": "查询证书", "parameters": [{"type": "string", "name": "orderId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "not found"}}}},
        "/ownership/order/{orderId}/ws": {"get": {"tags": ["ownership"], "summary": "订阅铸造进度", "parameters": [{"type": "string", "name": "orderId", "in": "path", "required": true}], "responses": {"101": {"description": "switching protocols"}}}},
        "/ownership/admin/re-mint": {"post": {"tags": ["ownership-admin"], "security": [{"BearerAuth": []}], "summary": "重新铸造", "responses": {"200": {"description": "OK"}, "409": {"description": "mint in progress"}}}},
        "/ownership/admin/failed-mints": {"get": {"tags": ["ownership-admin"], "security": [{"BearerAuth": []}], "summary": "失败订单", "parameters": [{"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/ownership/admin/unfreeze": {"post": {"tags": ["ownership-admin"], "security": [{"BearerAuth": []}], "summary": "解冻所有权证书", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "certmint API",
	Description:      "zeroXmods 双证书铸造服务",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
