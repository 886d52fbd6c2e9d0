package paystack

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Customer はPaystackの顧客情報。
type Customer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

// Authorization は再課金に使う支払い手段の認可情報。
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
}

// PlanRef はイベントや取引に埋め込まれるプラン参照。
// Paystackはプランが無い場合に空オブジェクトや空文字列を返すため、
// オブジェクト以外の値は空として扱う。
type PlanRef struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Interval string `json:"interval"`
}

// UnmarshalJSON はオブジェクト以外の値を空のPlanRefとして読み込む。
func (p *PlanRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*p = PlanRef{}
		return nil
	}
	type plain PlanRef
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PlanRef(v)
	return nil
}

// SubscriptionRef はイベントに埋め込まれる定期購読の参照。
type SubscriptionRef struct {
	SubscriptionCode string `json:"subscription_code"`
	EmailToken       string `json:"email_token"`
	Status           string `json:"status"`
	NextPaymentDate  Time   `json:"next_payment_date"`
}

// UnmarshalJSON はオブジェクト以外の値を空のSubscriptionRefとして読み込む。
func (s *SubscriptionRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*s = SubscriptionRef{}
		return nil
	}
	type plain SubscriptionRef
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SubscriptionRef(v)
	return nil
}

// TransactionMetadata は取引開始時に付与したメタデータ。
// Paystackはオブジェクト、JSON文字列、空文字列のいずれでも返すため、いずれも受け付ける。
type TransactionMetadata struct {
	UserID   string `json:"user_id"`
	PlanType string `json:"plan_type"`
}

// UnmarshalJSON はオブジェクトまたはオブジェクトを含むJSON文字列を読み込む。
// それ以外の値は空のメタデータとして扱う。
func (m *TransactionMetadata) UnmarshalJSON(data []byte) error {
	*m = TransactionMetadata{}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	m.UserID = metadataString(raw["user_id"])
	m.PlanType = metadataString(raw["plan_type"])
	return nil
}

func metadataString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// Time はnullや空文字列を許容するタイムスタンプ。
type Time struct {
	time.Time
}

// UnmarshalJSON はRFC 3339形式の文字列を読み込む。null・空文字列・解析不能な値はゼロ値とする。
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed.UTC()
	return nil
}

// Ptr はゼロ値ならnil、それ以外は値へのポインタを返す。
func (t Time) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
