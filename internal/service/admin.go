package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/crypto/bcrypt"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/model"
	"sportstream-relay/internal/store"
)

// ErrInvalidCredentials is returned by Login for a wrong username or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Audit log actions.
const (
	ActionLogin           = "login"
	ActionCacheInvalidate = "cache_invalidate"
)

// AdminService implements the admin API: login, dashboard, audit log and
// cache control.
type AdminService struct {
	cfg     config.AdminConfig
	store   *store.Store
	streams *StreamService
	logger  *slog.Logger
}

// NewAdminService creates an AdminService.
func NewAdminService(cfg *config.Config, st *store.Store, streams *StreamService, logger *slog.Logger) *AdminService {
	return &AdminService{
		cfg:     cfg.Admin,
		store:   st,
		streams: streams,
		logger:  logger.With("component", "admin_service"),
	}
}

// Login checks the credentials and returns the admin bearer token.
// Every attempt is written to the audit log.
func (a *AdminService) Login(ctx context.Context, username, password, remoteIP string) (string, error) {
	ok := a.checkCredentials(username, password)
	a.audit(ctx, ActionLogin, username, remoteIP, ok)
	if !ok {
		a.logger.Warn("admin login rejected", "username", username, "remote_ip", remoteIP)
		return "", ErrInvalidCredentials
	}
	a.logger.Info("admin login", "username", username, "remote_ip", remoteIP)
	return a.cfg.Token, nil
}

func (a *AdminService) checkCredentials(username, password string) bool {
	if a.cfg.Username == "" || a.cfg.PasswordHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	// The hash is compared even for an unknown user so timing does not reveal it.
	passOK := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// Dashboard gathers traffic, monthly streams, sport shares and the live
// upstream listing concurrently.
func (a *AdminService) Dashboard(ctx context.Context) (*model.AdminDashboard, error) {
	var d model.AdminDashboard

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		n, err := a.store.CountMatches(ctx)
		d.Stats.Traffic = n
		return err
	})
	p.Go(func(ctx context.Context) error {
		months, err := a.store.StreamsPerMonth(ctx)
		d.Streams = months
		return err
	})
	p.Go(func(ctx context.Context) error {
		shares, err := a.store.SportShares(ctx)
		d.MostStreamed = shares
		return err
	})
	p.Go(func(ctx context.Context) error {
		matches, err := a.streams.DashboardMatches(ctx)
		d.Matches = matches
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("admin dashboard: %w", err)
	}
	return &d, nil
}

// Logs returns up to limit audit log entries, newest first.
func (a *AdminService) Logs(ctx context.Context, limit int) ([]model.AdminLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return a.store.AdminLogs(ctx, limit)
}

// InvalidateCache drops cached stream listings and audits the action.
func (a *AdminService) InvalidateCache(ctx context.Context, remoteIP string) {
	a.streams.Invalidate()
	a.audit(ctx, ActionCacheInvalidate, a.cfg.Username, remoteIP, true)
}

func (a *AdminService) audit(ctx context.Context, action, username, remoteIP string, success bool) {
	err := a.store.AddAdminLog(ctx, &model.AdminLog{
		Action:   action,
		Username: username,
		RemoteIP: remoteIP,
		Success:  success,
	})
	if err != nil {
		a.logger.Error("write audit log failed", "action", action, "err", err)
	}
}
