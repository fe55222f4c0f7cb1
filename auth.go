package signalr

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

//bearerToken a JWT sent with every request.  The signature is the server's business; only the claims are read.
type bearerToken struct {
	raw     string
	subject string
	expires time.Time
	warned  atomic.Bool
}

func parseBearerToken(raw string) (*bearerToken, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, gojwt.MapClaims{})
	if err != nil {
		return nil, ConnectError(fmt.Sprintf("Invalid bearer token: %s", err.Error()))
	}

	claims := token.Claims.(gojwt.MapClaims)

	bt := &bearerToken{raw: raw}
	if subject, err := claims.GetSubject(); err == nil {
		bt.subject = subject
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		bt.expires = exp.Time
	}
	return bt, nil
}

func (bt *bearerToken) expired(now time.Time) bool {
	return !bt.expires.IsZero() && now.After(bt.expires)
}

func (bt *bearerToken) decorate(c *client, header http.Header) {
	if bt.expired(time.Now()) && bt.warned.CompareAndSwap(false, true) {
		glog.Infof("[c]%s bearer token for %q expired at %s\n", c.id, bt.subject, bt.expires.Format(time.RFC3339))
	}
	header.Set("Authorization", "Bearer "+bt.raw)
}
