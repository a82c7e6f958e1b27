package payment

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Signature computes the processor's notification digest:
//
//	UPPER(MD5(merchantID + orderID + amount(2dp) + currency + statusCode + UPPER(MD5(secret))))
//
// It must match the processor bit for bit.  The status code is covered so a
// signed failure notice cannot be replayed as a success.
func Signature(merchantID, orderID string, amount decimal.Decimal, currency string, statusCode int, secret string) string {
	secretHash := strings.ToUpper(md5Hex(secret))
	return strings.ToUpper(md5Hex(merchantID + orderID + amount.StringFixed(2) + currency + strconv.Itoa(statusCode) + secretHash))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
