// cmd/up2datectl/main.go - operator command line for the up2date agent.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rtsoft/up2date/pkg/agent"
	"github.com/rtsoft/up2date/pkg/config"
	"github.com/rtsoft/up2date/pkg/deploy"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/sysinfo"
	"github.com/rtsoft/up2date/pkg/trust"
	"github.com/rtsoft/up2date/pkg/version"
)

const appName = "up2datectl"

var errUsage = errors.New("usage")

type cli struct {
	configPath string
	output     string
	updateType string
	url        string
	md5        string
	sha256     string
	out        io.Writer
}

func main() {
	c := &cli{out: os.Stdout}
	pflag.StringVar(&c.configPath, "config", config.DefaultConfigPath(), "Path to the YAML configuration file.")
	pflag.StringVarP(&c.output, "output", "o", "table", "Output format: table, yaml or json.")
	pflag.StringVar(&c.updateType, "type", deploy.UpdateForced, "Update type for deploy: forced, attempt or skip.")
	pflag.StringVar(&c.url, "url", "", "Artifact URL for deploy.")
	pflag.StringVar(&c.md5, "md5", "", "Expected MD5 of the artifact for deploy.")
	pflag.StringVar(&c.sha256, "sha256", "", "Expected SHA-256 of the artifact for deploy.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Log to the console (-v info, -vv debug)")
	pflag.Usage = usage
	pflag.Parse()

	if *versionFlag {
		version.Fprint(os.Stdout, appName)
		return
	}
	switch verbosity {
	case 0:
		logging.UseWriter(io.Discard, logging.LevelError)
	case 1:
		logging.UseWriter(os.Stderr, logging.LevelInfo)
	default:
		logging.UseWriter(os.Stderr, logging.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := c.run(ctx, pflag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n\n", name)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  list                           List packages in the download directory\n")
	fmt.Fprintf(os.Stderr, "  install <file>...              Install downloaded packages now\n")
	fmt.Fprintf(os.Stderr, "  deploy <file> [--type --url]   Queue a deployment action for the service\n")
	fmt.Fprintf(os.Stderr, "  result <id>                    Show the outcome of a deployment action\n")
	fmt.Fprintf(os.Stderr, "  cancel <id>                    Cancel a queued deployment action\n")
	fmt.Fprintf(os.Stderr, "  whitelist list|add <cert>|remove <fingerprint>\n")
	fmt.Fprintf(os.Stderr, "  device import <cert>|show\n")
	fmt.Fprintf(os.Stderr, "  marker show|clear\n")
	fmt.Fprintf(os.Stderr, "  sysinfo                        Show reported device attributes\n")
	fmt.Fprintf(os.Stderr, "  version                        Show build information\n\n")
	pflag.PrintDefaults()
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		version.FprintFull(c.out, appName)
		return nil
	case "sysinfo":
		return c.sysinfo(ctx)
	}

	mgr, err := config.NewManager(c.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	switch cmd {
	case "deploy":
		return c.deploy(mgr, rest)
	case "result":
		return c.result(mgr, rest)
	case "cancel":
		return c.cancel(mgr, rest)
	case "whitelist":
		return c.whitelist(mgr, rest)
	case "device":
		return c.device(mgr, rest)
	}

	a, err := agent.Build(ctx, mgr, agent.Options{})
	if err != nil {
		return err
	}
	switch cmd {
	case "list":
		return c.list(ctx, a)
	case "install":
		return c.install(ctx, a, rest)
	case "marker":
		return c.marker(a, rest)
	}
	return errUsage
}

func (c *cli) encode(v interface{}) (bool, error) {
	switch c.output {
	case "yaml":
		enc := yaml.NewEncoder(c.out)
		defer enc.Close()
		return true, enc.Encode(v)
	case "json":
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", c.output)
}

func (c *cli) list(ctx context.Context, a *agent.Agent) error {
	pkgs := a.Registry.ListAvailablePackages(ctx)
	if done, err := c.encode(pkgs); done {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tPRODUCT\tVERSION\tPRODUCT CODE\tLAST RESULT")
	for _, p := range pkgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.FileName(), p.Status, p.ProductName, p.DisplayVersion, p.ProductCode, p.ErrorCode)
	}
	return w.Flush()
}

func (c *cli) install(ctx context.Context, a *agent.Agent, names []string) error {
	if len(names) == 0 {
		return errUsage
	}
	results := a.Registry.InstallPackages(ctx, names)
	if done, err := c.encode(results); done {
		return err
	}
	failed := 0
	for _, name := range names {
		result, ok := results[filepath.Base(name)]
		if !ok {
			fmt.Fprintf(c.out, "%s: skipped (not supported or not downloaded)\n", name)
			failed++
			continue
		}
		fmt.Fprintf(c.out, "%s: %s\n", name, result)
		if !result.IsSuccess() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d packages not installed", failed, len(names))
	}
	return nil
}

func (c *cli) deploy(mgr *config.Manager, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	cfg := mgr.Config()
	id, err := nextActionID(cfg.ActionsPath)
	if err != nil {
		return err
	}
	info := deploy.Info{
		ID:         id,
		UpdateType: c.updateType,
		FileName:   filepath.Base(args[0]),
		URL:        c.url,
		MD5:        c.md5,
		SHA256:     c.sha256,
	}
	if _, err := deploy.WriteAction(cfg.ActionsPath, info); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "queued action %d for %s\n", id, info.FileName)
	return nil
}

// nextActionID picks an id not used by a queued action or a result in dir.
func nextActionID(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	maxID := 0
	for _, e := range entries {
		name := e.Name()
		for i := 0; i < len(name); i++ {
			if name[i] < '0' || name[i] > '9' {
				if n, err := strconv.Atoi(name[:i]); err == nil && n > maxID {
					maxID = n
				}
				break
			}
		}
	}
	return maxID + 1, nil
}

func (c *cli) result(mgr *config.Manager, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid action id %q", args[0])
	}
	r, err := deploy.ReadResult(mgr.Config().ActionsPath, id)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(c.out, "action %d: no result yet\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	if done, err := c.encode(r); done {
		return err
	}
	fmt.Fprintf(c.out, "action %d (%s): %s/%s %s\n", r.ID, r.FileName, r.Execution, r.Finished, r.Message)
	return nil
}

func (c *cli) cancel(mgr *config.Manager, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid action id %q", args[0])
	}
	dir := mgr.Config().ActionsPath
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(id)+".cancel"), nil, 0644); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cancel requested for action %d\n", id)
	return nil
}

func (c *cli) whitelist(mgr *config.Manager, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	store, err := trust.OpenStore(mgr.Config().WhitelistPath)
	if err != nil {
		return err
	}
	switch {
	case args[0] == "list" && len(args) == 1:
		certs, err := store.List()
		if err != nil {
			return err
		}
		type entry struct {
			Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
			Subject     string `json:"subject" yaml:"subject"`
			Issuer      string `json:"issuer" yaml:"issuer"`
			NotAfter    string `json:"not_after" yaml:"not_after"`
		}
		entries := make([]entry, 0, len(certs))
		for _, cert := range certs {
			entries = append(entries, entry{trust.Fingerprint(cert), cert.Subject.CommonName, cert.Issuer.CommonName, cert.NotAfter.Format("2006-01-02")})
		}
		if done, err := c.encode(entries); done {
			return err
		}
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FINGERPRINT (SHA-256)\tSUBJECT\tISSUER\tEXPIRES")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Fingerprint, e.Subject, e.Issuer, e.NotAfter)
		}
		return w.Flush()
	case args[0] == "add" && len(args) == 2:
		cert, err := trust.ParseCertificateFile(args[1])
		if err != nil {
			return err
		}
		if err := store.Add(cert); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "whitelisted %s (%s)\n", cert.Subject.CommonName, trust.Fingerprint(cert))
		return nil
	case args[0] == "remove" && len(args) == 2:
		if err := store.RemoveFingerprint(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "removed %s\n", trust.NormalizeFingerprint(args[1]))
		return nil
	}
	return errUsage
}

func (c *cli) device(mgr *config.Manager, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	dev, err := trust.OpenDeviceCertificate(mgr.Config().DeviceCertificatePath)
	if err != nil {
		return err
	}
	switch {
	case args[0] == "import" && len(args) == 2:
		if err := dev.ImportFile(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "imported device certificate %s issued by %s\n", dev.SubjectCN(), dev.IssuerCN())
		return nil
	case args[0] == "show" && len(args) == 1:
		if !dev.Available() {
			fmt.Fprintln(c.out, "no device certificate imported")
			return nil
		}
		cert, _ := dev.Certificate()
		fmt.Fprintf(c.out, "subject:     %s\n", dev.SubjectCN())
		fmt.Fprintf(c.out, "issuer:      %s\n", dev.IssuerCN())
		fmt.Fprintf(c.out, "expires:     %s\n", cert.NotAfter.Format("2006-01-02"))
		fmt.Fprintf(c.out, "fingerprint: %s\n", trust.Fingerprint(cert))
		return nil
	}
	return errUsage
}

func (c *cli) marker(a *agent.Agent, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	switch args[0] {
	case "show":
		if code := a.Marker.Get(); code != "" {
			fmt.Fprintf(c.out, "installation in progress: %s\n", code)
		} else {
			fmt.Fprintln(c.out, "no installation in progress")
		}
		return nil
	case "clear":
		if err := a.Marker.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "marker cleared")
		return nil
	}
	return errUsage
}

func (c *cli) sysinfo(ctx context.Context) error {
	info := sysinfo.Retrieve(ctx)
	if done, err := c.encode(info); done {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, attr := range info.Attributes() {
		fmt.Fprintf(w, "%s\t%s\n", attr.Key, attr.Value)
	}
	return w.Flush()
}
