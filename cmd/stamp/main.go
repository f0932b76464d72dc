package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/stamp/internal/config"
	"github.com/pingsantohq/stamp/internal/events"
	"github.com/pingsantohq/stamp/internal/health"
	"github.com/pingsantohq/stamp/internal/logging"
	"github.com/pingsantohq/stamp/internal/metrics"
	"github.com/pingsantohq/stamp/internal/reflector"
	"github.com/pingsantohq/stamp/internal/report"
	"github.com/pingsantohq/stamp/internal/sender"
	"github.com/pingsantohq/stamp/internal/transport"
	"github.com/pingsantohq/stamp/pkg/types"
)

const privilegedPortLimit = 1024

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "reflector":
		err = runReflector(ctx, os.Args[2:])
	case "sender":
		err = runSender(ctx, os.Args[2:])
	case "config":
		err = runConfig(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("STAMP (RFC 8762) measurement tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  stamp reflector [-4|-6] [-d] [--config path] [--metrics-addr addr] [--rate-limit pps] [port]")
	fmt.Println("  stamp sender [-4|-6] [-d] [--config path] [--metrics-addr addr] [--interval 1s] [--timeout 5s] [--count n] [--output text|json] [host] [port]")
	fmt.Println("  stamp config [--config path] [--write path]")
}

// commonFlags are shared by the reflector and sender subcommands.
type commonFlags struct {
	configPath  string
	ipv4        bool
	ipv6        bool
	family      string
	debug       bool
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file (default $STAMP_CONFIG or "+config.DefaultConfigPath+")")
	fs.BoolVar(&c.ipv4, "4", false, "Use IPv4 only")
	fs.BoolVar(&c.ipv6, "6", false, "Use IPv6 only")
	fs.StringVar(&c.family, "family", "", "Address family: auto, ipv4 or ipv6")
	fs.BoolVar(&c.debug, "d", false, "Enable debug logging")
	fs.BoolVar(&c.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /readyz on this address")
}

// familyOverride reports the family requested on the command line, if any.
func (c *commonFlags) familyOverride() (string, bool, error) {
	switch {
	case c.ipv4 && c.ipv6:
		return "", false, errors.New("-4 and -6 are mutually exclusive")
	case c.ipv4:
		return transport.FamilyIPv4.String(), true, nil
	case c.ipv6:
		return transport.FamilyIPv6.String(), true, nil
	case c.family != "":
		return c.family, true, nil
	}
	return "", false, nil
}

func (c *commonFlags) apply(cfg *config.Config, family *string) error {
	fam, ok, err := c.familyOverride()
	if err != nil {
		return err
	}
	if ok {
		*family = fam
	}
	if c.debug {
		cfg.Log.Debug = true
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (config.Config, error) {
	if path != "" {
		return config.Load(ctx, path)
	}
	return config.LoadFromEnv(ctx)
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if err := transport.ValidatePort(port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return port, nil
}

// parseReflectorArgs resolves the effective configuration: file values first,
// then explicitly set flags, then the optional positional port.
func parseReflectorArgs(ctx context.Context, args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("reflector", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	rateLimit := fs.Float64("rate-limit", 0, "Maximum reflections per second (0 disables)")
	rateBurst := fs.Int("rate-burst", 0, "Reflection burst size (defaults to the rate)")
	staleAfter := fs.Duration("stale-after", 0, "Readiness staleness window")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 1 {
		return config.Config{}, fmt.Errorf("usage: stamp reflector [-4|-6] [-d] [port]")
	}

	cfg, err := loadConfig(ctx, common.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := common.apply(&cfg, &cfg.Reflector.Family); err != nil {
		return config.Config{}, err
	}
	set := setFlags(fs)
	if set["rate-limit"] {
		cfg.Reflector.RateLimitPPS = *rateLimit
	}
	if set["rate-burst"] {
		cfg.Reflector.RateLimitBurst = *rateBurst
	}
	if set["stale-after"] {
		cfg.Metrics.StaleAfter = *staleAfter
	}
	if fs.NArg() == 1 {
		port, err := parsePort(fs.Arg(0))
		if err != nil {
			return config.Config{}, err
		}
		cfg.Reflector.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func parseSenderArgs(ctx context.Context, args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	interval := fs.Duration("interval", 0, "Delay between probes")
	timeout := fs.Duration("timeout", 0, "Time to wait for each reply")
	count := fs.Uint64("count", 0, "Stop after this many probes (0 runs until interrupted)")
	output := fs.String("output", "", "Sample output format: text or json")
	staleAfter := fs.Duration("stale-after", 0, "Readiness staleness window")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 2 {
		return config.Config{}, fmt.Errorf("usage: stamp sender [-4|-6] [-d] [host] [port]")
	}

	cfg, err := loadConfig(ctx, common.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := common.apply(&cfg, &cfg.Sender.Family); err != nil {
		return config.Config{}, err
	}
	set := setFlags(fs)
	if set["interval"] {
		cfg.Sender.Interval = *interval
	}
	if set["timeout"] {
		cfg.Sender.Timeout = *timeout
	}
	if set["count"] {
		cfg.Sender.Count = *count
	}
	if set["output"] {
		cfg.Sender.Output = *output
	}
	if set["stale-after"] {
		cfg.Metrics.StaleAfter = *staleAfter
	}
	if fs.NArg() >= 1 {
		cfg.Sender.Host = fs.Arg(0)
	}
	if fs.NArg() == 2 {
		port, err := parsePort(fs.Arg(1))
		if err != nil {
			return config.Config{}, err
		}
		cfg.Sender.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runReflector(ctx context.Context, args []string) error {
	cfg, err := parseReflectorArgs(ctx, args, os.Stderr)
	if err != nil {
		return err
	}
	family, err := transport.ParseFamily(cfg.Reflector.Family)
	if err != nil {
		return err
	}

	logger := logging.NewTo(os.Stderr, "reflector")
	port := cfg.Reflector.Port
	if port < privilegedPortLimit && os.Geteuid() != 0 {
		logger.Printf("Warning: binding to privileged port %d may fail without root privileges.", port)
	}

	metricsStore := metrics.NewStore()
	healthChecker := health.NewChecker(metricsStore, cfg.Metrics.StaleAfter)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Listen(runCtx, port, family, transport.WithLogger(logger))
	healthChecker.ObserveBind(time.Now().UTC(), err)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("STAMP Reflector listening on port %d (%s)...\n", port, conn.Mode())
	if cfg.Log.Debug {
		caps := conn.Capabilities()
		logger.Printf("socket capabilities: ttl=%t hop_limit=%t rx_timestamps=%s", caps.TTL, caps.HopLimit, caps.Timestamps)
	}

	opts := []reflector.Option{
		reflector.WithLogger(logger),
		reflector.WithDebug(cfg.Log.Debug),
		reflector.WithRateLimit(cfg.Reflector.RateLimitPPS, cfg.Reflector.RateLimitBurst),
		reflector.WithMetrics(metricsStore.ReflectorRecorder()),
		reflector.WithActivity(healthChecker),
		reflector.WithReflectionHandler(func(r reflector.Reflection) {
			if err := report.Reflected(os.Stdout, r); err != nil {
				logger.Printf("write output: %v", err)
			}
		}),
	}
	if cfg.Log.Debug {
		opts = append(opts, reflector.WithEvents(events.LogRecorder{Logger: logger}))
	}
	refl := reflector.New(conn, opts...)

	err = runEngine(runCtx, refl.Run, cfg.Metrics.Addr, metricsStore, healthChecker, logger)
	if serr := report.ReflectorSummary(os.Stdout, refl.Stats()); serr != nil {
		logger.Printf("write summary: %v", serr)
	}
	return err
}

func runSender(ctx context.Context, args []string) error {
	cfg, err := parseSenderArgs(ctx, args, os.Stderr)
	if err != nil {
		return err
	}
	family, err := transport.ParseFamily(cfg.Sender.Family)
	if err != nil {
		return err
	}

	logger := logging.NewTo(os.Stderr, "sender")
	// JSON output keeps stdout machine readable.
	var info io.Writer = os.Stdout
	if strings.EqualFold(cfg.Sender.Output, config.OutputJSON) {
		info = os.Stderr
	}
	samples, err := report.NewSampleWriter(cfg.Sender.Output, os.Stdout)
	if err != nil {
		return err
	}

	metricsStore := metrics.NewStore()
	healthChecker := health.NewChecker(metricsStore, senderStaleAfter(cfg), health.WithRequireActivity())

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Dial(runCtx, cfg.Sender.Host, cfg.Sender.Port, family, transport.WithLogger(logger))
	healthChecker.ObserveBind(time.Now().UTC(), err)
	if err != nil {
		return err
	}
	defer conn.Close()

	target := net.JoinHostPort(cfg.Sender.Host, strconv.Itoa(cfg.Sender.Port))
	fmt.Fprintf(info, "STAMP Sender targeting %s\n", target)
	fmt.Fprintln(info, "Press Ctrl+C to stop and show statistics")
	if err := samples.WriteHeader(); err != nil {
		return err
	}

	opts := []sender.Option{
		sender.WithLogger(logger),
		sender.WithDebug(cfg.Log.Debug),
		sender.WithInterval(cfg.Sender.Interval),
		sender.WithTimeout(cfg.Sender.Timeout),
		sender.WithCount(cfg.Sender.Count),
		sender.WithPeer(target),
		sender.WithMetrics(metricsStore.SenderRecorder()),
		sender.WithActivity(healthChecker),
		sender.WithSampleHandler(func(s types.Sample) {
			if err := samples.WriteSample(s); err != nil {
				logger.Printf("write output: %v", err)
			}
		}),
	}
	if cfg.Log.Debug {
		opts = append(opts, sender.WithEvents(events.LogRecorder{Logger: logger}))
	}
	snd := sender.New(conn, opts...)
	if cfg.Log.Debug {
		logger.Printf("session %s local=%s", snd.SessionID(), conn.LocalAddr())
	}

	err = runEngine(runCtx, snd.Run, cfg.Metrics.Addr, metricsStore, healthChecker, logger)
	stats := snd.Stats()
	if serr := report.SenderSummary(info, stats); serr != nil {
		logger.Printf("write summary: %v", serr)
	}
	if stats.ClockAnomaly() {
		_ = report.ClockSkewWarning(os.Stderr)
	}
	return err
}

// senderStaleAfter defaults the readiness window to three probe cycles.
func senderStaleAfter(cfg config.Config) time.Duration {
	if cfg.Metrics.StaleAfter > 0 {
		return cfg.Metrics.StaleAfter
	}
	return 3 * max(cfg.Sender.Interval, cfg.Sender.Timeout)
}

// runEngine runs an engine loop next to the optional monitoring server. The
// server is stopped once the engine returns.
func runEngine(ctx context.Context, run func(context.Context) error, metricsAddr string, store *metrics.Store, checker *health.Checker, logger *log.Logger) error {
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, groupCtx := errgroup.WithContext(engineCtx)
	grp.Go(func() error {
		defer cancel()
		return run(groupCtx)
	})
	if metricsAddr != "" {
		grp.Go(func() error {
			return serveMonitoring(groupCtx, metricsAddr, store, checker, logger)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runConfig(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $STAMP_CONFIG or "+config.DefaultConfigPath+")")
	writePath := fs.String("write", "", "Write the effective configuration to this path")
	defaults := fs.Bool("defaults", false, "Ignore configuration files and use built-in defaults")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if !*defaults {
		loaded, err := loadConfig(ctx, *configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if *writePath != "" {
		if err := config.Write(*writePath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", *writePath)
		return nil
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}
