package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gridkit/grid"
	"github.com/gridkit/grid/pkg/client"
)

const targetAll = "all"

// command carries the verb handlers. Verbs act on the local registry by
// default and switch to a remote daemon when --api-url is set.
type command struct{}

func openSupervisor(configPath string) (*grid.Supervisor, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file required: use --config=grid.toml")
	}
	sup, err := grid.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return sup, nil
}

func newRemote(f TargetFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// Install installs one service or all of them.
func (c command) Install(f TargetFlags) error {
	if f.APIUrl != "" {
		return c.installRemote(f)
	}
	sup, err := openSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	ctx := context.Background()

	if f.Target == targetAll {
		b := sup.InstallAll(ctx)
		for _, o := range b.Outcomes {
			if o.Err != nil {
				fmt.Printf("%s: FAILED (%v)\n", o.Name, o.Err)
				continue
			}
			fmt.Printf("%s: installed\n", o.Name)
		}
		return b.Err()
	}
	if err := sup.Install(ctx, f.Target); err != nil {
		return err
	}
	fmt.Printf("%s: installed\n", f.Target)
	return nil
}

func (c command) installRemote(f TargetFlags) error {
	cl := newRemote(f)
	ctx := context.Background()
	if f.Target == targetAll {
		return cl.InstallAll(ctx)
	}
	return cl.Install(ctx, f.Target)
}

// Start starts one service or all of them. A service that is already
// running counts as success.
func (c command) Start(f TargetFlags) error {
	if f.APIUrl != "" {
		return c.startRemote(f)
	}
	sup, err := openSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	ctx := context.Background()

	if f.Target == targetAll {
		b := sup.StartAll(ctx)
		failed := 0
		for _, o := range b.Outcomes {
			switch {
			case o.Err == nil:
				fmt.Printf("%s: running\n", o.Name)
			case errors.Is(o.Err, grid.ErrDuplicateService):
				fmt.Printf("%s: already running\n", o.Name)
			default:
				failed++
				fmt.Printf("%s: FAILED (%v)\n", o.Name, o.Err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d services failed to start", failed, len(b.Outcomes))
		}
		return nil
	}

	st, err := sup.Start(ctx, f.Target)
	if errors.Is(err, grid.ErrDuplicateService) {
		fmt.Printf("%s: already running\n", f.Target)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: running (pid %d)\n", f.Target, st.PID)
	return nil
}

func (c command) startRemote(f TargetFlags) error {
	cl := newRemote(f)
	ctx := context.Background()
	if f.Target == targetAll {
		return cl.StartAll(ctx)
	}
	st, err := cl.Start(ctx, f.Target)
	if err != nil {
		return err
	}
	fmt.Printf("%s: running (pid %d)\n", f.Target, st.PID)
	return nil
}

// Stop stops one service or all of them, in reverse start order. A
// service that was not running is a normal outcome; only unconfirmed
// terminations fail the verb.
func (c command) Stop(f TargetFlags) error {
	if f.APIUrl != "" {
		return c.stopRemote(f)
	}
	sup, err := openSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	ctx := context.Background()

	if f.Target == targetAll {
		names := sup.Names()
		failed := 0
		for i := len(names) - 1; i >= 0; i-- {
			res, err := sup.Stop(ctx, names[i])
			if err != nil {
				failed++
				fmt.Printf("%s: FAILED (%v)\n", names[i], err)
				continue
			}
			fmt.Printf("%s: %s\n", names[i], res)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d services failed to stop", failed, len(names))
		}
		return nil
	}

	res, err := sup.Stop(ctx, f.Target)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", f.Target, res)
	return nil
}

func (c command) stopRemote(f TargetFlags) error {
	cl := newRemote(f)
	ctx := context.Background()
	if f.Target == targetAll {
		return cl.StopAll(ctx)
	}
	out, err := cl.Stop(ctx, f.Target)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", f.Target, out.Result)
	return nil
}

// Status prints the current state of one service or all of them. State
// is re-checked against the OS, so a dead process never shows running.
func (c command) Status(f TargetFlags) error {
	if f.APIUrl != "" {
		return c.statusRemote(f)
	}
	sup, err := openSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	ctx := context.Background()

	if f.Target == "" || f.Target == targetAll {
		sts, err := sup.StatusAll(ctx)
		if err != nil {
			return err
		}
		printJSON(sts)
		return nil
	}
	st, err := sup.Status(ctx, f.Target)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) statusRemote(f TargetFlags) error {
	cl := newRemote(f)
	ctx := context.Background()
	if f.Target == "" || f.Target == targetAll {
		sts, err := cl.StatusAll(ctx)
		if err != nil {
			return err
		}
		printJSON(sts)
		return nil
	}
	st, err := cl.Status(ctx, f.Target)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Bootstrap rebuilds the whole grid: stop everything, wipe the deploy
// area, reinstall and restart all services.
func (c command) Bootstrap(f BootstrapFlags) error {
	if f.APIUrl != "" {
		cl := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
		if err := cl.Bootstrap(context.Background()); err != nil {
			return err
		}
		fmt.Println("bootstrap complete")
		return nil
	}
	sup, err := openSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	if err := sup.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrap left the grid partially converged: %w", err)
	}
	fmt.Println("bootstrap complete")
	return nil
}
