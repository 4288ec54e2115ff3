package tool

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// Order and shipment lookups derive deterministic records from a hash of
// the identifiers, so the same order always validates the same way.

func lookupOrder(args map[string]any) (contractx.ToolResult, error) {
	identityID := stringArg(args, "identity_id")
	orderID := stringArg(args, "order_id")
	if orderID == "" {
		return contractx.ToolResult{Tool: ToolOrderLookup, Error: "order_id is required"}, nil
	}

	h := orderHash(identityID, orderID)
	amount := 50 + float64(hexInt(h[:4])%450)
	refunded := hexInt(h[4:6])%10 == 0
	daysAgo := hexInt(h[6:8]) % 90

	return contractx.ToolResult{
		Tool: ToolOrderLookup,
		Result: map[string]any{
			"order_id":         orderID,
			"order_amount":     amount,
			"already_refunded": refunded,
			"age_days":         daysAgo,
		},
	}, nil
}

func trackShipment(args map[string]any) (contractx.ToolResult, error) {
	orderID := stringArg(args, "order_id")
	if orderID == "" {
		return contractx.ToolResult{Tool: ToolShipmentTrack, Error: "order_id is required"}, nil
	}

	h := orderHash("shipment", orderID)
	statuses := []string{"in_transit", "out_for_delivery", "delivered", "delayed"}
	status := statuses[hexInt(h[:4])%len(statuses)]
	eta := 1 + hexInt(h[4:6])%5

	return contractx.ToolResult{
		Tool: ToolShipmentTrack,
		Result: map[string]any{
			"order_id": orderID,
			"status":   status,
			"eta_days": eta,
			"carrier":  "standard",
		},
	}, nil
}

var kbSnippets = map[string]string{
	"login":    "Reset the password from the account page; sessions expire after 30 days.",
	"payment":  "Failed payments are retried automatically after 24 hours.",
	"shipping": "Standard delivery takes 3-5 business days; tracking updates nightly.",
	"refund":   "Refunds post back to the original payment method within 5-10 business days.",
}

func searchKB(args map[string]any) (contractx.ToolResult, error) {
	query := strings.ToLower(stringArg(args, "query"))
	if query == "" {
		return contractx.ToolResult{Tool: ToolKBSearch, Error: "query is required"}, nil
	}

	var hits []map[string]any
	for topic, text := range kbSnippets {
		if strings.Contains(query, topic) {
			hits = append(hits, map[string]any{"topic": topic, "text": text})
		}
	}
	if len(hits) == 0 {
		hits = append(hits, map[string]any{
			"topic": "general",
			"text":  "A support specialist will review the request and follow up.",
		})
	}

	return contractx.ToolResult{
		Tool:   ToolKBSearch,
		Result: map[string]any{"hits": hits, "count": len(hits)},
	}, nil
}

func orderHash(identityID, orderID string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s", identityID, orderID)))
	return hex.EncodeToString(sum[:])
}

func hexInt(s string) int {
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return int(v)
}
