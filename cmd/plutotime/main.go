package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"plutotime/internal/battery"
	"plutotime/internal/config"
	"plutotime/internal/event"
	"plutotime/internal/geo"
	appLog "plutotime/internal/log"
	"plutotime/internal/model"
	"plutotime/internal/notify"
	"plutotime/internal/places"
	"plutotime/internal/refresh"
	"plutotime/internal/solar"
	"plutotime/internal/store"
	"plutotime/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	lat        float64
	lng        float64
}

func main() {
	appLog.Info("plutotime starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Error("failed to write default config, continuing with defaults", err, "config_path", flags.configPath)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	} else {
		appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
	}

	display, err := conf.DisplayLocation()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "timezone", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", display.String(),
		"target", conf.Target.Body,
		"altitude", conf.Target.AltitudeDegrees,
		"window_minutes", conf.Event.WindowMinutes,
		"capacity", conf.Event.Capacity,
		"refresh", conf.RefreshCron,
		"test_cadence", conf.Debug.TestCadence,
		"mqtt", conf.Notify.MQTT != nil,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	state := event.NewState(event.Options{
		Target:   conf.TargetCondition(),
		Window:   conf.Window(),
		Capacity: conf.Event.Capacity,
		Source:   newSource(conf),
		Display:  display,
	})
	st := store.New(conf.StatePath)

	catalog := loadPlaces(ctx, conf)
	batt := battery.NewStaticReader(battery.Mains)
	if conf.BatteryI2CAddr != 0 {
		batt = battery.DefaultReader(ctx, conf.BatteryI2CAddr)
	}
	var locator *geo.Locator
	if !math.IsNaN(flags.lat) && !math.IsNaN(flags.lng) {
		locator = &geo.Locator{
			Provider: geo.Static{Latitude: flags.lat, Longitude: flags.lng},
			Battery:  batt,
		}
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if conf.Notify.MQTT != nil && !flags.once {
		ms, err := notify.NewMQTTSink(*conf.Notify.MQTT)
		if err != nil {
			appLog.Error("mqtt sink unavailable", err)
		} else {
			defer ms.Close()
			sinks = append(sinks, ms)
		}
	}
	scheduler := notify.NewScheduler(sinks)
	defer scheduler.CancelAll()

	var runner *refresh.Runner
	if flags.once {
		runner = refresh.New(conf.RefreshCron, state, nil, st)
	} else {
		runner = refresh.New(conf.RefreshCron, state, scheduler, st)
	}

	loc, err := initialLocation(ctx, conf, st, locator, !flags.once)
	if err != nil {
		appLog.Error("failed to resolve a location", err)
		os.Exit(1)
	}
	if err := runner.SetLocation(loc, time.Now(), nil); err != nil {
		appLog.Error("initial event calculation failed", err, "name", loc.Name)
		if flags.once {
			os.Exit(1)
		}
	}

	if flags.once {
		printEvents(state)
		return
	}

	srv := web.NewServer(conf, web.Deps{
		State:     state,
		Runner:    runner,
		Scheduler: scheduler,
		Store:     st,
		Places:    catalog,
		Battery:   batt,
		Locator:   locator,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			appLog.Error("refresh loop failed", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx); err != nil {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()
	wg.Wait()

	appLog.Info("plutotime exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/plutotime/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Compute and print the upcoming events, then exit")
	flag.Float64Var(&cfg.lat, "lat", math.NaN(), "Current latitude; with -lng, tracks this position as the device location")
	flag.Float64Var(&cfg.lng, "lng", math.NaN(), "Current longitude; see -lat")

	flag.Parse()

	return cfg
}

func newSource(conf *config.Config) event.Source {
	if conf.Debug.TestCadence {
		every := time.Duration(conf.Debug.CadenceMinutes) * time.Minute
		appLog.Warn("using test cadence instead of solar calculation", "every", every.String())
		return event.TestCadence{Every: every}
	}
	return solar.Calculator{MaxScanDays: conf.Event.MaxScanDays}
}

func loadPlaces(ctx context.Context, conf *config.Config) *places.Catalog {
	if conf.PlacesURL != "" {
		c, err := places.NewFetcher(conf.CacheDir).Fetch(ctx, conf.PlacesURL)
		if err == nil {
			return c
		}
		appLog.Error("failed to fetch place catalog, falling back", err)
	}
	c, err := places.Load(conf.PlacesPath)
	if err != nil {
		appLog.Error("failed to load place catalog, using built-in list", err, "path", conf.PlacesPath)
		return places.NewCatalog(places.Builtin())
	}
	return c
}

// initialLocation prefers a live fix, then the saved location, then the
// configured default. The choice is persisted unless persist is false.
func initialLocation(ctx context.Context, conf *config.Config, st *store.Store, locator *geo.Locator, persist bool) (model.TrackedLocation, error) {
	var (
		loc        model.TrackedLocation
		youAreHere bool
	)

	saved, found, err := st.Load()
	if err != nil {
		appLog.Error("failed to load state file, starting fresh", err, "path", st.Path())
	}

	switch {
	case locator != nil:
		loc, err = locator.Locate(ctx)
		if err != nil {
			return model.TrackedLocation{}, err
		}
		youAreHere = true
	case found && saved.Location != nil:
		loc, err = saved.Location.Tracked()
		if err == nil {
			appLog.Info("restored saved location", "name", loc.Name)
			return loc, nil
		}
		appLog.Error("saved location is invalid, using default", err)
		fallthrough
	default:
		loc, err = conf.TrackedLocation()
		if err != nil {
			return model.TrackedLocation{}, err
		}
	}

	if !persist {
		return loc, nil
	}
	if _, err := st.Update(func(s *store.AppState) {
		s.Location = store.FromTracked(loc)
		s.YouAreHere = youAreHere
		s.PromptsCompleted[0] = true
	}); err != nil {
		appLog.Error("failed to persist location", err, "path", st.Path())
	}
	return loc, nil
}

func printEvents(state *event.State) {
	loc, _ := state.Location()
	target := state.Target()
	instants := state.Instants()
	if len(instants) == 0 {
		fmt.Printf("No %s Time found for %s\n", target.Body, loc.DisplayFullName())
		return
	}
	clock, _ := state.FormatClockTime(event.Clock12h)
	date, _ := state.FormatDateLong()
	fmt.Printf("Next %s Time in %s: %s, %s\n", target.Body, loc.DisplayFullName(), clock, date)
	zone := state.DisplayLocation()
	for _, t := range instants {
		fmt.Println(t.In(zone).Format(time.RFC3339))
	}
}
