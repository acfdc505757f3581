package proxycache

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/larkspur-labs/proxycache/internal/admin"
	"github.com/larkspur-labs/proxycache/internal/cache"
	"github.com/larkspur-labs/proxycache/internal/certmint"
	"github.com/larkspur-labs/proxycache/internal/filter"
	"github.com/larkspur-labs/proxycache/internal/proxyrun"
)

// Proxy owns every subsystem for one run of the process: the cache, the
// connection loop, the optional host filter and CA, and the optional
// admin surface. Construction never starts network I/O; call Run for
// that. This mirrors the teacher's own single loop-owned value replacing
// the original's mutable-by-coincidence global (spec §9's design note).
type Proxy struct {
	cfg    Config
	logger *zap.Logger

	cache  *cache.Cache
	filter *filter.List
	ca     *certmint.CA
	loop   *proxyrun.Loop
	admin  *admin.Server
}

// New builds a Proxy from cfg, loading the host filter file and CA
// material if configured. It performs no network I/O.
func New(cfg Config, logger *zap.Logger) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := cache.New(cfg.CacheCapacity, cfg.DefaultMaxAge)

	var fl *filter.List
	if cfg.FilterFile != "" {
		built, err := filter.New()
		if err != nil {
			return nil, fmt.Errorf("proxycache: building filter: %w", err)
		}
		f, err := os.Open(cfg.FilterFile)
		if err != nil {
			return nil, fmt.Errorf("proxycache: opening filter file: %w", err)
		}
		defer f.Close()
		if err := built.Load(f); err != nil {
			return nil, fmt.Errorf("proxycache: loading filter file: %w", err)
		}
		fl = built
	}

	var ca *certmint.CA
	if cfg.Intercept {
		loaded, err := certmint.LoadCA(cfg.CACertPath, cfg.CAKeyPath)
		if err != nil {
			return nil, fmt.Errorf("proxycache: loading CA: %w", err)
		}
		ca = loaded
	}

	loop := proxyrun.NewLoop(c, fl, ca, logger.Named("loop"), cfg.InactivityTimeout, cfg.DefaultMaxAge, cfg.Intercept)

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		adminSrv = admin.New(c, loop)
	}

	return &Proxy{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		filter: fl,
		ca:     ca,
		loop:   loop,
		admin:  adminSrv,
	}, nil
}

// Run listens on the configured port and blocks until the loop halts
// (spec §6 halt signal), a SIGINT/SIGTERM arrives, or a fatal subsystem
// error occurs. A signal or a subsystem error cancels a shared context the
// other subsystems select on; a halt closes the loop's Halted channel,
// which the loop and the admin server both watch. This follows the
// shutdown join the teacher uses across its own listener/admin/signal trio
// (modules/caddyhttp/app.go, cmd/run.go).
func (p *Proxy) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p.cfg.Port))
	if err != nil {
		return fmt.Errorf("proxycache: listening on port %d: %w", p.cfg.Port, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.loop.Serve(gctx, ln)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-p.loop.Halted():
			return nil
		}
	})

	if p.admin != nil {
		adminSrv := &http.Server{Addr: p.cfg.AdminAddr, Handler: p.admin}
		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() { errCh <- adminSrv.ListenAndServe() }()
			select {
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				adminSrv.Shutdown(shutdownCtx)
				return nil
			case <-p.loop.Halted():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				adminSrv.Shutdown(shutdownCtx)
				return nil
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("proxycache: admin server: %w", err)
				}
				return nil
			}
		})
	}

	p.logger.Info("proxycache listening", zap.Int("port", p.cfg.Port), zap.Bool("intercept", p.cfg.Intercept))
	return g.Wait()
}
