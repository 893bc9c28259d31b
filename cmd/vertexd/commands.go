package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/coredeploy/vertexd/async"
	"github.com/coredeploy/vertexd/deploy"
	"github.com/coredeploy/vertexd/metrics"
	"github.com/coredeploy/vertexd/module"
	"github.com/coredeploy/vertexd/redeploy"
	"github.com/coredeploy/vertexd/tracing"
	"github.com/coredeploy/vertexd/xlog"
)

// buildVersion is overwritten at build time via -ldflags, following
// aistore's own cmn/ver_const.go convention of a manually-bumped release
// string.
var buildVersion = "<dev>"

var (
	modRootFlag = &cli.StringFlag{
		Name:  "mod-root",
		Usage: "directory modules are installed under and resolved from",
		Value: "./modules",
	}
	repoFlag = &cli.StringFlag{
		Name:  "repo",
		Usage: "module repository URL (http://, https://, fasthttp://, s3://bucket/prefix, gs://bucket/prefix, azblob://container/prefix, oci://namespace/bucket/prefix)",
	}
	otlpFlag = &cli.StringFlag{
		Name:  "otlp-endpoint",
		Usage: "OTLP gRPC collector endpoint; stdout tracing is used when unset",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to serve Prometheus metrics on (empty disables it)",
	}
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the build version and exit",
		Action: func(c *cli.Context) error {
			fmt.Printf("vertexd %s (%s)\n", buildVersion, runtime.Version())
			return nil
		},
	}
}

func installCommand() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "install a module from the configured repository",
		ArgsUsage: "module-name",
		Flags:     []cli.Flag{modRootFlag, repoFlag},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.ShowCommandHelp(c, "install")
			}
			ctx := context.Background()
			repository, err := buildRepository(ctx, c.String(repoFlag.Name))
			if err != nil {
				return err
			}
			var repos []module.Repository
			if repository != nil {
				repos = append(repos, repository)
			}
			resolver := module.NewResolver(c.String(modRootFlag.Name), repos, 30*time.Second)
			return withInstallSpinner(name, func() error {
				return resolver.Install(ctx, name)
			})
		},
	}
}

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:      "uninstall",
		Usage:     "remove a module's installed directory",
		ArgsUsage: "module-name",
		Flags:     []cli.Flag{modRootFlag},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.ShowCommandHelp(c, "uninstall")
			}
			modRoot := c.String(modRootFlag.Name)
			if !module.Exists(modRoot, name) {
				return fmt.Errorf("uninstall: %s is not installed under %s", name, modRoot)
			}
			if err := os.RemoveAll(module.Dir(modRoot, name)); err != nil {
				return err
			}
			color.Green("uninstalled %s\n", name)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "resolve and deploy an ad-hoc verticle by its main entry point",
		ArgsUsage: "main",
		Flags: []cli.Flag{
			modRootFlag, repoFlag, otlpFlag, metricsAddrFlag,
			&cli.StringFlag{Name: "conf", Usage: "path to a JSON config file passed to the verticle"},
			&cli.StringSliceFlag{Name: "cp", Usage: "extra classpath URLs"},
			&cli.IntFlag{Name: "instances", Usage: "number of instances to launch", Value: 1},
			&cli.StringFlag{Name: "includes", Usage: "comma-separated module names resolved for their classpath"},
			&cli.BoolFlag{Name: "worker", Usage: "share one execution context across all instances"},
			&cli.BoolFlag{Name: "cluster", Usage: "serve a metrics/control endpoint for this process"},
			&cli.IntFlag{Name: "cluster-port", Usage: "port for -cluster", Value: 8080},
			&cli.StringFlag{Name: "cluster-host", Usage: "host for -cluster", Value: "0.0.0.0"},
		},
		Action: func(c *cli.Context) error {
			main := c.Args().First()
			if main == "" {
				return cli.ShowCommandHelp(c, "run")
			}
			return runLaunch(c, launchRequest{
				main:      main,
				cp:        c.StringSlice("cp"),
				includes:  c.String("includes"),
				instances: c.Int("instances"),
				worker:    c.Bool("worker"),
			})
		},
	}
}

func runmodCommand() *cli.Command {
	return &cli.Command{
		Name:      "runmod",
		Usage:     "resolve and deploy a module by name",
		ArgsUsage: "module-name",
		Flags: []cli.Flag{
			modRootFlag, repoFlag, otlpFlag, metricsAddrFlag,
			&cli.StringFlag{Name: "conf", Usage: "path to a JSON config file passed to the verticle"},
			&cli.IntFlag{Name: "instances", Usage: "number of instances to launch", Value: 1},
			&cli.BoolFlag{Name: "cluster", Usage: "serve a metrics/control endpoint for this process"},
			&cli.IntFlag{Name: "cluster-port", Usage: "port for -cluster", Value: 8080},
			&cli.StringFlag{Name: "cluster-host", Usage: "host for -cluster", Value: "0.0.0.0"},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.ShowCommandHelp(c, "runmod")
			}
			return runLaunch(c, launchRequest{moduleName: name, instances: c.Int("instances")})
		},
	}
}

// launchRequest is the union of what `run` and `runmod` need; exactly one
// of main/moduleName is set.
type launchRequest struct {
	main       string
	moduleName string
	cp         []string
	includes   string
	instances  int
	worker     bool
}

// runLaunch wires a Runtime with a polling auto-redeploy engine, optionally
// a metrics server and a -cluster endpoint, deploys the requested module or verticle, then blocks
// until interrupted — the CLI's only non-trivial piece of glue, everything
// else is a thin flag-to-call translation.
func runLaunch(c *cli.Context, req launchRequest) error {
	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, c.String(otlpFlag.Name))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(ctx) }()

	if addr := c.String(metricsAddrFlag.Name); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				xlog.Warningf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	modRoot := c.String(modRootFlag.Name)
	repository, err := buildRepository(ctx, c.String(repoFlag.Name))
	if err != nil {
		return err
	}
	var repos []module.Repository
	if repository != nil {
		repos = append(repos, repository)
	}
	resolver := module.NewResolver(modRoot, repos, 30*time.Second)

	tree, err := deploy.NewTree()
	if err != nil {
		return err
	}
	defer tree.Close()

	runner := async.NewRunner(8)
	factories := deploy.NewFactoryMap()
	factories.Register("default", NewPluginFactory())

	rt := deploy.NewRuntime(tree, resolver, factories, runner, nil)
	reloader := redeploy.NewReloader(tree, rt)
	poll := redeploy.NewPoll(reloader, 2*time.Second)
	defer poll.Close()
	rt.Redeployer = newAutoRedeployer(reloader, pollEngine{poll})

	if c.Bool("cluster") {
		addr := fmt.Sprintf("%s:%d", c.String("cluster-host"), c.Int("cluster-port"))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/deployments", func(w http.ResponseWriter, _ *http.Request) { tree.Print(w) })
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				xlog.Warningf("cluster endpoint: %v", err)
			}
		}()
		defer srv.Close()
		color.Cyan("cluster endpoint listening on %s\n", addr)
	}

	config, err := loadConfigFile(c.String("conf"))
	if err != nil {
		return err
	}

	workerCtx := deploy.WithWorkerThread(ctx)
	done := make(chan error, 1)
	var deployedName string
	onDone := func(deploymentName string, err error) { deployedName = deploymentName; done <- err }
	if req.moduleName != "" {
		rt.DeployModule(workerCtx, deploy.DeployModuleRequest{
			ModuleName: req.moduleName,
			Config:     config,
			Instances:  req.instances,
		}, onDone)
	} else {
		rt.DeployVerticle(workerCtx, deploy.DeployVerticleRequest{
			Main:      req.main,
			Config:    config,
			URLs:      append([]string(nil), req.cp...),
			Instances: req.instances,
			Worker:    req.worker,
			Includes:  req.includes,
		}, onDone)
	}

	if err := <-done; err != nil {
		return err
	}
	color.Green("deployed as %s, press Ctrl-C to undeploy and exit\n", deployedName)
	waitForSignal()

	undone := make(chan error, 1)
	rt.Undeploy(deploy.WithWorkerThread(context.Background()), deployedName, func(_ string, err error) { undone <- err })
	return <-undone
}
