package redis

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	"github.com/alicebob/miniredis/v2"
)

// expiryTick is how often the embedded server's clock is advanced. The server
// does not age keys on its own.
var expiryTick = time.Second

// embedded is an in-process Redis server owned by a Client.
type embedded struct {
	srv  *miniredis.Miniredis
	stop chan struct{}
}

// NewEmbedded starts an in-process Redis server and returns a Client
// connected to it. Data lives only as long as the Client; Close stops the
// server. Addr, Password and DB in cfg are ignored.
func NewEmbedded(cfg config.RedisConfig) (*Client, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("starting embedded redis: %w", err)
	}
	cfg.Addr = srv.Addr()
	cfg.Password = ""
	cfg.DB = 0
	c, err := NewClient(cfg)
	if err != nil {
		srv.Close()
		return nil, err
	}
	e := &embedded{srv: srv, stop: make(chan struct{})}
	go e.age(expiryTick)
	c.embedded = e
	return c, nil
}

func (e *embedded) age(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.srv.FastForward(tick)
		}
	}
}

func (e *embedded) close() {
	close(e.stop)
	e.srv.Close()
}
