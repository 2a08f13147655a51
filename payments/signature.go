package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// Sign computes the callback signature the gateway attaches to a successful
// checkout: hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func Sign(secret, orderID, paymentID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// verify compares signature against the expected value in constant time.
func verify(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ToMinorUnits converts a major-unit amount (rupees) into minor units (paise).
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
