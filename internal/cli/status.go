package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/ipc"
	"github.com/melonattacker/bmon/internal/tunables"
)

type statusJSON struct {
	Daemon struct {
		Running      bool   `json:"running"`
		PID          int    `json:"pid"`
		UID          int    `json:"uid"`
		Version      string `json:"version,omitempty"`
		Sock         string `json:"sock"`
		SocketAccess string `json:"socket_access"`
		SocketError  string `json:"socket_error,omitempty"`

		StatusOK    bool   `json:"status_ok"`
		StatusError string `json:"status_error,omitempty"`
	} `json:"daemon"`
	Kernel    string              `json:"kernel,omitempty"`
	Backend   string              `json:"backend,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Verdict   bool                `json:"verdict"`
	Slots     map[string]uint64   `json:"slots,omitempty"`
	Status    *ipc.StatusResponse `json:"status,omitempty"`
	Ready     bool                `json:"ready"`
	Reasons   []string            `json:"reasons"`
}

func StatusCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("status", args, statusUsage)

	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var out statusJSON
	out.Daemon.Sock = ipc.SockPath()

	client, err := ipc.Dial(ctx)
	if err != nil {
		out.Daemon.SocketAccess = "fail"
		out.Daemon.SocketError = err.Error()
		out.Reasons = []string{"daemon_not_running"}
		return writeStatus(os.Stdout, out, asJSON)
	}
	defer client.Close()
	out.Daemon.Running = true
	out.Daemon.SocketAccess = "ok"

	st, err := client.Status(ctx)
	if err != nil {
		out.Daemon.StatusError = err.Error()
		out.Reasons = []string{"daemon_status_unavailable"}
		return writeStatus(os.Stdout, out, asJSON)
	}
	fillStatus(&out, st)
	out.Ready, out.Reasons = decideReady(st)
	return writeStatus(os.Stdout, out, asJSON)
}

func fillStatus(out *statusJSON, st ipc.StatusResponse) {
	out.Daemon.StatusOK = true
	out.Daemon.PID = st.PID
	out.Daemon.UID = st.UID
	out.Daemon.Version = st.Version
	out.Kernel = st.Kernel
	out.Backend = st.Collector.Backend
	out.SessionID = st.SessionID
	out.Slots = namedSlots(st.Slots)
	out.Verdict = len(st.Slots) > tunables.SlotVerdict && st.Slots[tunables.SlotVerdict] != 0
	out.Status = &st
}

// decideReady reports whether the daemon is monitoring the real system.
func decideReady(st ipc.StatusResponse) (bool, []string) {
	reasons := make([]string, 0, 3)
	if st.Collector.Backend != "kernel" {
		reasons = append(reasons, "emulated_backend")
	}
	if st.UID != 0 {
		reasons = append(reasons, "daemon_not_root")
	}
	if len(st.Slots) != tunables.NumSlots {
		reasons = append(reasons, "tunables_unavailable")
	}
	return len(reasons) == 0, reasons
}

func namedSlots(vals []uint64) map[string]uint64 {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(vals))
	for i, v := range vals {
		out[tunables.SlotName(i)] = v
	}
	return out
}

func statusUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s status: check whether bmond is running and monitoring\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s status [flags]\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  Ready=YES requires: bmond reachable, running as root, and using the kernel backend.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s status\n", prog)
	fmt.Fprintf(w, "  %s status --json\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

func writeStatus(w io.Writer, s statusJSON, asJSON bool) error {
	if asJSON {
		return writeJSON(w, s)
	}

	daemonLine := "not running"
	if s.Daemon.Running && s.Daemon.StatusOK {
		daemonLine = fmt.Sprintf("running (pid %d, uid %d)", s.Daemon.PID, s.Daemon.UID)
		if s.Daemon.Version != "" {
			daemonLine += " " + s.Daemon.Version
		}
	} else if s.Daemon.Running {
		daemonLine = "running (socket ok; status unavailable)"
	}

	sockAccess := strings.ToUpper(s.Daemon.SocketAccess)
	if strings.TrimSpace(s.Daemon.SocketError) != "" {
		sockAccess = fmt.Sprintf("%s (%s)", sockAccess, strings.TrimSpace(s.Daemon.SocketError))
	}

	readyWord := "NO"
	if s.Ready {
		readyWord = "YES"
	}

	fmt.Fprintf(w, "Daemon:        %s\n", daemonLine)
	if s.Kernel != "" {
		fmt.Fprintf(w, "Kernel:        %s\n", s.Kernel)
	}
	if st := s.Status; st != nil {
		fmt.Fprintf(w, "Backend:       %s\n", s.Backend)
		if s.SessionID != "" {
			fmt.Fprintf(w, "Session:       %s\n", s.SessionID)
		}
		verdict := "clear"
		if s.Verdict {
			verdict = "SET"
		}
		fmt.Fprintf(w, "Verdict:       %s\n", verdict)
		fmt.Fprintf(w, "Thresholds:    %s\n", cliui.JoinKV(
			cliui.KV{K: "file", V: fmt.Sprint(s.Slots[tunables.SlotName(tunables.SlotFileAccessThreshold)])},
			cliui.KV{K: "net", V: fmt.Sprint(s.Slots[tunables.SlotName(tunables.SlotNetConnThreshold)])},
			cliui.KV{K: "volume", V: fmt.Sprint(s.Slots[tunables.SlotName(tunables.SlotSyscallVolumeThreshold)])},
		))
		fmt.Fprintf(w, "Collector:     %s\n", cliui.JoinKV(
			cliui.KV{K: "emitted", V: fmt.Sprint(st.Collector.Emitted)},
			cliui.KV{K: "dropped", V: fmt.Sprint(st.Collector.Dropped)},
			cliui.KV{K: "misses", V: fmt.Sprint(st.Collector.StateMisses)},
			cliui.KV{K: "tracked", V: fmt.Sprintf("%d/%d", st.Collector.TrackedProcs, st.Collector.ProcessCapacity)},
		))
		fmt.Fprintf(w, "Analyzer:      %s\n", cliui.JoinKV(
			cliui.KV{K: "events", V: fmt.Sprint(st.Analyzer.Total)},
			cliui.KV{K: "invalid", V: fmt.Sprint(st.Analyzer.Invalid)},
			cliui.KV{K: "suspicious_pids", V: fmt.Sprint(st.Analyzer.SuspiciousPIDs)},
			cliui.KV{K: "subscribers", V: fmt.Sprint(st.Subscribers)},
		))
	}
	fmt.Fprintf(w, "Socket access: %s\n", sockAccess)
	fmt.Fprintf(w, "Ready:         %s\n", readyWord)
	if !s.Ready && len(s.Reasons) > 0 {
		fmt.Fprintf(w, "Reasons:       %s\n", strings.Join(s.Reasons, ", "))
	}
	return nil
}
