package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
	"github.com/andewx/vkhelper/internal/config"
	"github.com/andewx/vkhelper/sim"
	"github.com/andewx/vkhelper/vulkan"
)

type options struct {
	configPath string
	backend    string
	validation bool
	elements   uint32
	timeout    time.Duration
	logLevel   string
	metricsOut string

	cfg      config.Config
	log      *vkhelper.Logger
	registry *prometheus.Registry
	metrics  *vkhelper.Metrics
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vkhelper",
		Short:         "Bootstrap a Vulkan compute context and test a host to device transfer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (.toml, .yaml, .yml or .json)")
	flags.StringVar(&opts.backend, "backend", "", "Driver backend: vulkan|sim")
	flags.BoolVar(&opts.validation, "validation", false, "Enable validation layers and the debug messenger")
	flags.Uint32Var(&opts.elements, "elements", 0, "Number of uint32 elements to transfer")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Fence wait timeout, 0 waits forever")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.metricsOut, "metrics-out", "", "Write metrics in text exposition format to this file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Initialize, run the transfer test and clean up (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd)
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List physical devices with their compute rating",
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.devices(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "probe",
			Short: "Show instance extensions, layers and validation support",
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.probe(cmd.OutOrStdout())
			},
		},
	)
	return root
}

// setup loads the config file and applies the flags that were set on top of it.
func (o *options) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = o.backend
	}
	if flags.Changed("validation") {
		cfg.EnableValidation = o.validation
	}
	if flags.Changed("elements") {
		cfg.BufferElements = o.elements
	}
	if flags.Changed("timeout") {
		cfg.FenceTimeout = config.Duration(o.timeout)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	o.cfg = cfg
	o.log = vkhelper.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat != config.LogFormatJSON)
	o.registry = prometheus.NewRegistry()
	o.metrics = vkhelper.NewMetrics(o.registry)
	return nil
}

func (o *options) openDriver() (vkhelper.Driver, func(), error) {
	switch o.cfg.Backend {
	case config.BackendSim:
		devices, err := o.cfg.Devices()
		if err != nil {
			return nil, nil, err
		}
		return sim.New(sim.WithDevices(devices...)), func() {}, nil
	default:
		d, err := vulkan.New(o.cfg.Loader)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
}

func (o *options) run(cmd *cobra.Command) (err error) {
	driver, closeDriver, err := o.openDriver()
	if err != nil {
		return err
	}
	defer closeDriver()
	defer func() {
		if werr := o.writeMetrics(); err == nil {
			err = werr
		}
	}()

	hcfg, err := o.cfg.HelperConfig()
	if err != nil {
		return err
	}
	ctx := vkhelper.New(driver, hcfg, vkhelper.WithLogger(o.log), vkhelper.WithMetrics(o.metrics))
	defer ctx.Cleanup()

	if err := ctx.Init(); err != nil {
		return err
	}
	status := ctx.Status()
	o.log.Message("Validation enabled: %v, debug messenger: %v, single queue family: %v",
		status.ValidationEnabled, status.DebugMessenger, status.SingleQueueFamily)
	elements := ctx.Config().BufferElements
	if err := ctx.RunTransferTest(elements); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "transfer ok: %d elements on %s\n",
		elements, ctx.PhysicalDevice().Properties.Name)
	return nil
}

// withInstance creates a bare instance for the read-only commands.
func (o *options) withInstance(fn func(vkhelper.Driver, vkhelper.Instance) error) error {
	driver, closeDriver, err := o.openDriver()
	if err != nil {
		return err
	}
	defer closeDriver()
	hcfg, err := o.cfg.HelperConfig()
	if err != nil {
		return err
	}
	instance, err := driver.CreateInstance(vkhelper.InstanceCreateInfo{
		Application: vkhelper.ApplicationInfo{
			AppName:    hcfg.AppName,
			AppVersion: vkhelper.DefaultAppVersion,
			EngineName: hcfg.EngineName,
			APIVersion: hcfg.APIVersion,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create instance")
	}
	defer driver.DestroyInstance(instance)
	return fn(driver, instance)
}

func (o *options) devices(out io.Writer) error {
	return o.withInstance(func(driver vkhelper.Driver, instance vkhelper.Instance) error {
		prober := vkhelper.NewProber(driver, o.log, nil)
		ratings, err := vkhelper.NewSelector(driver, prober, o.log, o.metrics).RankDevices(instance)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tNAME\tTYPE\tSHARED MEM\tINVOCATIONS\tQUEUES\tSCORE")
		for i, r := range ratings {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%d\n", i, r.Properties.Name, deviceType(r.Properties),
				r.Properties.Limits.MaxComputeSharedMemorySize, r.Properties.Limits.MaxComputeWorkGroupInvocations,
				r.Queues, r.Score)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return o.writeMetrics()
	})
}

func (o *options) probe(out io.Writer) error {
	driver, closeDriver, err := o.openDriver()
	if err != nil {
		return err
	}
	defer closeDriver()

	prober := vkhelper.NewProber(driver, o.log, o.cfg.ValidationLayers)
	extensions, err := prober.InstanceExtensions()
	if err != nil {
		return err
	}
	layers, err := driver.EnumerateInstanceLayers()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "instance extensions (%d):\n", len(extensions))
	for _, ext := range extensions {
		fmt.Fprintf(out, "  %s\n", ext)
	}
	fmt.Fprintf(out, "instance layers (%d):\n", len(layers))
	for _, l := range layers {
		fmt.Fprintf(out, "  %s\n", l)
	}
	fmt.Fprintf(out, "debug report: %v\n", prober.ExtensionAvailable(vkhelper.DebugReportExtension))
	fmt.Fprintf(out, "validation supported: %v\n", prober.ValidationLayersSupported())
	return nil
}

func (o *options) writeMetrics() error {
	if o.metricsOut == "" {
		return nil
	}
	families, err := o.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	f, err := os.Create(o.metricsOut)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}

func deviceType(props vkhelper.DeviceProperties) string {
	switch props.Type {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "other"
	}
}
