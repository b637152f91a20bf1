// pkg/agent/agent.go - builds the long-lived objects shared by the service and the operator CLI.

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rtsoft/up2date/pkg/config"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/metrics"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/registry"
	"github.com/rtsoft/up2date/pkg/selector"
	"github.com/rtsoft/up2date/pkg/signature"
	"github.com/rtsoft/up2date/pkg/state"
	"github.com/rtsoft/up2date/pkg/trust"
)

// Agent is the wired package-management core.
type Agent struct {
	Config    *config.Manager
	Whitelist *trust.Store
	Device    *trust.DeviceCertificate
	Verifier  *signature.Verifier
	Selector  *selector.Selector
	Marker    *state.Marker
	Registry  *registry.Registry
}

// Options tune Build for the caller.
type Options struct {
	Metrics    metrics.Recorder
	OnFinished registry.FinishedFunc
	// Extractor overrides the platform signature extractor.
	Extractor signature.Extractor
}

// Build opens the stores named in the configuration and runs the first package scan.
func Build(ctx context.Context, mgr *config.Manager, opts Options) (*Agent, error) {
	cfg := mgr.Config()

	whitelist, err := trust.OpenStore(cfg.WhitelistPath)
	if err != nil {
		return nil, fmt.Errorf("opening whitelist: %w", err)
	}
	device, err := trust.OpenDeviceCertificate(cfg.DeviceCertificatePath)
	if err != nil {
		return nil, fmt.Errorf("opening device certificate: %w", err)
	}
	marker, err := state.OpenMarker(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening install marker: %w", err)
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = signature.NewExtractor()
	}
	verifier := signature.NewVerifier(extractor, whitelist,
		signature.WithRevocationTimeout(time.Duration(cfg.RevocationTimeoutSeconds)*time.Second))
	sel := selector.NewDefault(selector.Deps{
		Settings:     mgr,
		Sources:      mgr,
		FileVerifier: verifier,
		Whitelist:    whitelist,
	})

	regOpts := []registry.Option{registry.WithInstallLogDir(cfg.InstallLogPath)}
	if opts.Metrics != nil {
		regOpts = append(regOpts, registry.WithMetrics(opts.Metrics))
	}
	onFinished := opts.OnFinished
	if onFinished == nil {
		onFinished = func(pkg packages.Package, result packages.Result) {
			logging.Info("Setup finished", "file", pkg.FileName(), "status", pkg.Status.String(), "result", result.String())
		}
	}
	regOpts = append(regOpts, registry.WithOnFinished(onFinished))

	return &Agent{
		Config:    mgr,
		Whitelist: whitelist,
		Device:    device,
		Verifier:  verifier,
		Selector:  sel,
		Marker:    marker,
		Registry:  registry.New(ctx, sel, mgr, marker, mgr, regOpts...),
	}, nil
}
