// Command crinitd is the PID-1-capable init/service-manager daemon
// described by spec §1/§2: it loads a series configuration, builds the
// TaskDB and dispatcher, starts the scheduler loop and the runtime
// command socket, and (when running as PID 1) performs the reboot/
// poweroff sequence itself rather than handing off to another process.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/crinit-go/crinit/internal/confload"
	"github.com/crinit-go/crinit/internal/dispatch"
	"github.com/crinit-go/crinit/internal/fseries"
	"github.com/crinit-go/crinit/internal/globopt"
	"github.com/crinit-go/crinit/internal/kcmdline"
	"github.com/crinit-go/crinit/internal/logio"
	"github.com/crinit-go/crinit/internal/optfeat"
	"github.com/crinit-go/crinit/internal/rtimcmd"
	"github.com/crinit-go/crinit/internal/shutdown"
	"github.com/crinit-go/crinit/internal/sockserver"
	"github.com/crinit-go/crinit/internal/taskdb"
	"github.com/crinit-go/crinit/internal/thrpool"
	"github.com/crinit-go/crinit/internal/version"
)

func main() {
	var (
		seriesFile   = flag.String("c", "/etc/crinit/default.series", "series configuration file")
		sockFile     = flag.String("sock", "", "runtime command rendezvous socket (overrides series/default)")
		debug        = flag.Bool("debug", false, "enable debug logging")
		kcmdlinePath = flag.String("kernel-cmdline", "", "override /proc/cmdline path, mainly for testing")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		major, minor, micro, buildID := version.Strings()
		fmt.Printf("crinitd %s.%s.%s (%s)\n", major, minor, micro, buildID)
		return
	}

	log := logio.New(logio.Options{Name: "crinitd", Debug: *debug})

	store := globopt.NewStore(globopt.DefaultOptions())

	if err := kcmdline.Load(*kcmdlinePath, kcmdlineHandlers(store), log.Named("kcmdline")); err != nil {
		log.Warn("kernel command line parsing failed", "error", err)
	}

	if *seriesFile != "" {
		if err := loadSeriesFile(*seriesFile, store); err != nil {
			log.Error("failed to load series configuration", "error", err)
			os.Exit(1)
		}
	}

	cur := store.Get()
	if *sockFile != "" {
		cur.SockFile = *sockFile
	}
	if *debug {
		cur.Debug = true
	}
	store.Set(cur)

	disp := dispatch.New(log.Named("dispatch"))
	hook := optfeat.NewLogging(log.Named("optfeat"))
	db := taskdb.New(disp.Spawn, hook, log.Named("taskdb"))

	loadTasks(store, db, log.Named("confload"))

	pool := thrpool.New(thrpool.Options{InitialSize: 4, Increment: 4, QueueDepth: 64}, log.Named("thrpool"))

	seq := shutdown.New(db, shutdown.DefaultKiller(), shutdown.DefaultRebooter(), store.Get().ShutdownGracePeriod, log.Named("shutdown"))

	exec := &rtimcmd.Executor{
		DB:           db,
		Opts:         store,
		Sig:          disp,
		Log:          log.Named("rtimcmd"),
		ShutdownFunc: seq.Run,
	}

	srv := sockserver.New(store.Get().SockFile, exec, pool, log.Named("sockserver"))

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error("socket server stopped", "error", err)
		}
	}()

	runScheduler(db, log.Named("scheduler"))
}

// loadSeriesFile reads path's KVs, applies the recognized global
// options to store, and records the TASKS list (if any) for
// loadTasks to consume. It mirrors the ADDSERIES runtime command's
// option-application half (internal/rtimcmd.Executor.addSeries) but
// runs once at startup instead of over an existing TaskDB.
func loadSeriesFile(path string, store *globopt.Store) error {
	kvs, err := confload.ReadKV(path)
	if err != nil {
		return err
	}
	series, err := confload.BuildSeriesOptions(kvs)
	if err != nil {
		return err
	}

	opts := store.Get()
	if series.TaskDir != "" {
		opts.TaskDir = series.TaskDir
	}
	opts.TaskDirFollowSymlinks = series.TaskDirFollowSymlinks
	if series.TaskFileSuffix != "" {
		opts.TaskFileSuffix = series.TaskFileSuffix
	}
	if series.IncludeDir != "" {
		opts.IncludeDir = series.IncludeDir
	}
	if series.IncludeSuffix != "" {
		opts.IncludeSuffix = series.IncludeSuffix
	}
	opts.Debug = opts.Debug || series.Debug
	opts.UseSyslog = series.UseSyslog
	opts.UseElos = series.UseElos
	opts.ElosServer = series.ElosServer
	opts.ElosPort = series.ElosPort
	if series.ElosEventPollInterval > 0 {
		opts.ElosEventPollInterval = time.Duration(series.ElosEventPollInterval) * time.Second
	}
	if series.ShutdownGracePeriodUS > 0 {
		opts.ShutdownGracePeriod = time.Duration(series.ShutdownGracePeriodUS) * time.Microsecond
	}
	if len(series.LauncherCmd) > 0 {
		opts.LauncherCmd = series.LauncherCmd
	}
	store.Set(opts)
	store.SetTasks(series.Tasks)
	return nil
}

func kcmdlineHandlers(store *globopt.Store) kcmdline.Map {
	return kcmdline.Map{
		"debug": func(v string) error {
			store.SetBool("DEBUG", v == "1" || v == "true")
			return nil
		},
		"syslog": func(v string) error {
			store.SetBool("USE_SYSLOG", v == "1" || v == "true")
			return nil
		},
	}
}

// loadTasks scans the configured task directory (or explicit TASKS
// list) and inserts every task into db. A task file that fails to
// parse is logged and skipped rather than aborting the whole series,
// matching the runtime ADDTASK command's per-task error reporting.
func loadTasks(store *globopt.Store, db *taskdb.DB, log hclog.Logger) {
	opts := store.Get()

	var paths []string
	if len(opts.Tasks) > 0 {
		paths = opts.Tasks
	} else if opts.TaskDir != "" {
		var err error
		paths, err = fseries.Scan(fseries.Options{
			Dir:            opts.TaskDir,
			FollowSymlinks: opts.TaskDirFollowSymlinks,
			TaskSuffix:     opts.TaskFileSuffix,
			IncludeDir:     opts.IncludeDir,
			IncludeSuffix:  opts.IncludeSuffix,
		})
		if err != nil {
			log.Error("failed to scan task directory", "dir", opts.TaskDir, "error", err)
			return
		}
	}

	includeLoader := func(value string) ([]confload.KV, error) {
		path := value
		if opts.IncludeDir != "" {
			path = opts.IncludeDir + "/" + value
		}
		return confload.ReadKV(path)
	}

	for _, p := range paths {
		kvs, err := confload.ReadKV(p)
		if err != nil {
			log.Warn("failed to read task file", "path", p, "error", err)
			continue
		}
		t, err := confload.BuildTask(kvs, opts.Env, opts.Filters, includeLoader)
		if err != nil {
			log.Warn("failed to parse task file", "path", p, "error", err)
			continue
		}
		if err := db.Insert(t, false); err != nil {
			log.Warn("failed to insert task", "task", t.Name, "error", err)
		}
	}
}

// runScheduler runs the level-triggered spawnReady loop described by
// spec §4.1: scan for startable tasks, dispatch them, then block until
// the next state change before scanning again.
func runScheduler(db *taskdb.DB, log hclog.Logger) {
	for {
		if err := db.SpawnReady(taskdb.ModeStart); err != nil {
			log.Error("spawnReady failed", "error", err)
		}
		db.Wait()
	}
}
