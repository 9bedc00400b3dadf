package xkafka

import (
	"sync"
	"time"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// oauthRetryInterval 令牌获取失败后再次请求刷新的间隔。
const oauthRetryInterval = 10 * time.Second

// OAuthBearerToken SASL/OAUTHBEARER 令牌。
type OAuthBearerToken struct {
	TokenValue string
	Expiration time.Time
	Principal  string
	Extensions map[string]string
}

// oauthState 令牌与刷新计时。refreshC 由 serve 循环监听。
type oauthState struct {
	mu       sync.Mutex
	timer    *time.Timer
	token    *OAuthBearerToken
	refreshC chan struct{}
}

func (o *oauthState) timerC() <-chan struct{} { return o.refreshC }

func (o *oauthState) schedule(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(d, func() {
		select {
		case o.refreshC <- struct{}{}:
		default:
		}
	})
}

func (o *oauthState) stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (h *handle) requestTokenRefresh() {
	h.mainQ.Push(OAuthBearerTokenRefresh{Config: h.conf.oauthConfig})
}

// setOAuthBearerToken 应用新令牌，在剩余有效期的 80% 处再次请求刷新。
func (h *handle) setOAuthBearerToken(token OAuthBearerToken) error {
	const op = "set_oauthbearer_token"
	if err := h.usable(op); err != nil {
		return err
	}
	if h.conf.saslMechanism != "OAUTHBEARER" {
		return newError(KindState, ErrState, op, "sasl.mechanisms is not OAUTHBEARER")
	}
	lifetime := time.Until(token.Expiration)
	switch {
	case token.TokenValue == "":
		return newError(KindValidation, ErrInvalidArg, op, "empty token value")
	case lifetime <= 0:
		return newError(KindValidation, ErrInvalidArg, op, "token already expired")
	}

	if r, ok := h.transport.(xbroker.TokenReceiver); ok {
		if err := r.SetToken(token.TokenValue, token.Expiration); err != nil {
			return fromBroker(op, err)
		}
	}
	h.oauth.mu.Lock()
	h.oauth.token = &token
	h.oauth.mu.Unlock()
	h.oauth.schedule(lifetime * 8 / 10)
	h.log(logDebug, "OAUTHBEARER", "token set for principal "+token.Principal)
	return nil
}

// setOAuthBearerTokenFailure 报告令牌获取失败，稍后再次请求刷新。
func (h *handle) setOAuthBearerTokenFailure(reason string) error {
	const op = "set_oauthbearer_token_failure"
	if err := h.usable(op); err != nil {
		return err
	}
	if h.conf.saslMechanism != "OAUTHBEARER" {
		return newError(KindState, ErrState, op, "sasl.mechanisms is not OAUTHBEARER")
	}
	h.postError(newError(KindLocal, ErrAuthentication, "oauthbearer", reason))
	h.oauth.schedule(oauthRetryInterval)
	return nil
}
