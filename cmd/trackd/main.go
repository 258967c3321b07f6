//go:build linux

// trackd attaches to a running process, tracks the live records in
// its memory, and serves snapshots plus a small command surface over
// a unix socket using newline-delimited JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/ordindex"
	"gitlab.com/stephen-fox/trackit/proc"
	"gitlab.com/stephen-fox/trackit/record"
	"gitlab.com/stephen-fox/trackit/track"
)

// sendInterval is how often snapshot frames go out and how often the
// call path checks for pending attack requests.
const sendInterval = 200 * time.Millisecond

func init() {
	log.SetHandler(cli.New(os.Stderr))

	flags := rootCmd.Flags()

	flags.Int("pid", 0, "pid of the target process")
	flags.String("socket", "/tmp/trackd.sock", "unix socket path to serve on")
	flags.String("profiles", "", "optional layout profile file (yaml)")
	flags.String("context", "", "profile context to select")
	flags.String("code-hint", "", "hex address of host code that references the ordered index")
	flags.Int("code-hint-len", 0, "bytes of code to decode at the hint address")
	flags.Bool("verbose", false, "enable verbose logging")

	viper.SetEnvPrefix("trackd")
	viper.AutomaticEnv()
	viper.BindPFlags(flags)
}

var rootCmd = &cobra.Command{
	Use:           "trackd",
	Short:         "Track live records in a foreign process's memory",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Fatal("trackd failed")
	}
}

func run() error {
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	pid := viper.GetInt("pid")
	if pid <= 0 {
		return errors.New("please specify a target pid with --pid")
	}

	profile, err := loadProfile()
	if err != nil {
		return err
	}

	hint, err := parseCodeHint()
	if err != nil {
		return err
	}

	process, err := proc.Attach(pid)
	if err != nil {
		return errors.Wrapf(err, "failed to attach to pid %d", pid)
	}

	engine, err := track.NewEngine(track.EngineConfig{
		Mem:      process,
		Regions:  process.Regions,
		Profile:  profile,
		Hooks:    loggingHooks{},
		CodeHint: hint,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aliveCtx, stopAlive := process.AliveCtx(ctx)
	defer stopAlive()

	socketPath := viper.GetString("socket")

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", socketPath)
	}
	defer os.Remove(socketPath)

	log.WithFields(log.Fields{
		"pid":    pid,
		"socket": socketPath,
	}).Info("trackd started")

	group, groupCtx := errgroup.WithContext(aliveCtx)

	group.Go(func() error {
		return engine.Run(groupCtx)
	})

	group.Go(func() error {
		return serviceAttacks(groupCtx, engine)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		listener.Close()
		return nil
	})

	group.Go(func() error {
		return serve(groupCtx, listener, engine)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("trackd stopped")

	return nil
}

func loadProfile() (layout.Profile, error) {
	path := viper.GetString("profiles")
	if path == "" {
		return layout.Default(), nil
	}

	table, err := layout.LoadFile(path)
	if err != nil {
		return layout.Profile{}, errors.Wrap(err, "failed to load profile file")
	}

	if override := viper.GetString("context"); override != "" {
		table.SetContext(override)
	}

	profile, err := table.Current()
	if err != nil {
		return layout.Profile{}, err
	}

	log.WithField("context", table.CurrentContext()).Info("layout profile selected")

	return profile, nil
}

func parseCodeHint() (ordindex.CodeHint, error) {
	raw := viper.GetString("code-hint")
	if raw == "" {
		return ordindex.CodeHint{}, nil
	}

	address, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
	if err != nil {
		return ordindex.CodeHint{}, errors.Wrapf(err, "failed to parse code hint %q", raw)
	}

	return ordindex.CodeHint{
		Address: address,
		Length:  viper.GetInt("code-hint-len"),
	}, nil
}

// serviceAttacks is the host-owned execution path: it drains the
// attack request slot on a fixed cadence, pinned to one OS thread.
func serviceAttacks(ctx context.Context, engine *track.Engine) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			err := engine.ServiceAttack(now)
			if err != nil {
				log.WithError(err).Warn("attack request failed")
			}
		}
	}
}

// serve accepts one client at a time. A tracking session lives
// exactly as long as the client's connection.
func serve(ctx context.Context, listener net.Listener, engine *track.Engine) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accept failed")
		}

		handleClient(ctx, conn, engine)
	}
}

func handleClient(ctx context.Context, conn net.Conn, engine *track.Engine) {
	defer conn.Close()

	session := engine.BeginSession()
	defer engine.EndSession()

	logger := log.WithField("session", session)
	logger.Info("client connected")
	defer logger.Info("client disconnected")

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &lineWriter{conn: conn}

	go func() {
		defer cancel()
		readCommands(conn, w, engine, logger)
	}()

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientCtx.Done():
			return
		case <-ticker.C:
			err := w.writeJSON(snapshotFrame{
				Creatures: engine.Snapshot(),
			})
			if err != nil {
				return
			}
		}
	}
}

// snapshotFrame is one outbound line: the complete current result set.
type snapshotFrame struct {
	Creatures []record.Record `json:"creatures"`
}

type command struct {
	Cmd      string `json:"cmd"`
	PlayerID uint32 `json:"player_id,omitempty"`
	ID       uint32 `json:"id,omitempty"`
	Enabled  bool   `json:"enabled,omitempty"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func readCommands(conn net.Conn, w *lineWriter, engine *track.Engine, logger log.Interface) {
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var c command

		err := json.Unmarshal([]byte(line), &c)
		if err != nil {
			w.writeJSON(reply{Error: "malformed command"})
			continue
		}

		logger.WithField("cmd", c.Cmd).Debug("command received")

		if c.Cmd == "stop" {
			w.writeJSON(reply{OK: true})
			return
		}

		err = handleCommand(engine, c)
		if err != nil {
			w.writeJSON(reply{Error: err.Error()})
			continue
		}

		w.writeJSON(reply{OK: true})
	}
}

func handleCommand(engine *track.Engine, c command) error {
	switch c.Cmd {
	case "init":
		engine.SetSelfIdent(c.PlayerID)
		return nil
	case "attack":
		engine.RequestAttack(c.ID)
		return nil
	case "index":
		if c.Enabled && !engine.Handle().Valid() {
			_, err := engine.DiscoverIndex()
			if err != nil {
				return err
			}
		}
		return engine.SetIndexMode(c.Enabled)
	default:
		return fmt.Errorf("unknown command '%s'", c.Cmd)
	}
}

// lineWriter serializes writes to the connection: snapshot frames and
// command replies come from different goroutines.
type lineWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (o *lineWriter) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	_, err = o.conn.Write(append(b, '\n'))

	return err
}

// loggingHooks stands in for the host-specific call injection layer:
// it records what would have been called instead of calling it.
type loggingHooks struct{}

func (loggingHooks) CallAttackEntry(valuePtr uint64) error {
	log.WithField("value", fmt.Sprintf("0x%x", valuePtr)).Info("attack entry call")
	return nil
}

func (loggingHooks) CallNetworkAttackEntry(ident uint32, seq uint32) error {
	log.WithFields(log.Fields{
		"id":  fmt.Sprintf("0x%x", ident),
		"seq": seq,
	}).Info("network attack entry call")
	return nil
}
