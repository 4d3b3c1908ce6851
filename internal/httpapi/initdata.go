package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInitDataMissing = errors.New("initData required")
	ErrInitDataInvalid = errors.New("invalid initData")
	ErrInitDataExpired = errors.New("initData expired")
)

const (
	initDataMaxAge    = 24 * time.Hour
	initDataClockSkew = 5 * time.Minute
)

// TelegramUser is the "user" object of Mini App initData.
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Language  string `json:"language_code"`
}

// InitDataVerifier checks the signature Telegram puts on Mini App launch data.
type InitDataVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewInitDataVerifier(botToken string, clock clockwork.Clock) *InitDataVerifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &InitDataVerifier{secret: mac.Sum(nil), clock: clock}
}

// Verify checks the hash and freshness of initData and returns the signed user.
func (v *InitDataVerifier) Verify(initData string) (TelegramUser, error) {
	if initData == "" {
		return TelegramUser{}, ErrInitDataMissing
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return TelegramUser{}, fmt.Errorf("%w: %v", ErrInitDataInvalid, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return TelegramUser{}, fmt.Errorf("%w: hash is missing", ErrInitDataInvalid)
	}
	values.Del("hash")

	if !hmac.Equal([]byte(v.sign(values)), []byte(hash)) {
		return TelegramUser{}, fmt.Errorf("%w: signature mismatch", ErrInitDataInvalid)
	}

	raw := values.Get("auth_date")
	if raw == "" {
		return TelegramUser{}, fmt.Errorf("%w: auth_date is missing", ErrInitDataInvalid)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return TelegramUser{}, fmt.Errorf("%w: auth_date %q", ErrInitDataInvalid, raw)
	}
	age := v.clock.Since(time.Unix(ts, 0))
	if age > initDataMaxAge || age < -initDataClockSkew {
		return TelegramUser{}, ErrInitDataExpired
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return TelegramUser{}, fmt.Errorf("%w: user: %v", ErrInitDataInvalid, err)
	}
	if user.ID == 0 {
		return TelegramUser{}, fmt.Errorf("%w: user id is empty", ErrInitDataInvalid)
	}
	return user, nil
}

// sign computes the hex HMAC of the data-check-string: sorted key=value lines.
func (v *InitDataVerifier) sign(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
