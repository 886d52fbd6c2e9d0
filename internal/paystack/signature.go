package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader はWebhook署名を運ぶHTTPヘッダー名。
const SignatureHeader = "x-paystack-signature"

// Sign はbodyのHMAC-SHA512を16進文字列で返す。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature はsignatureがbodyの正しい署名かを定数時間で比較する。
// 受信したバイト列そのものに対して検証すること。再エンコードしたJSONでは一致しない。
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
