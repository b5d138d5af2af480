package console

import (
	"fmt"
	"io"

	"github.com/loykin/scanrun/internal/run"
)

// maxTargetRunes bounds the target shown in a listing entry.
const maxTargetRunes = 50

// EntryLabel renders one history entry: "NN • timestamp • ok|err N • target".
// number is 1-based.
func EntryLabel(number int, r run.Record) string {
	status := "ok"
	if !r.OK() {
		status = fmt.Sprintf("err %d", *r.ExitCode)
	}
	target := r.Target
	if rs := []rune(target); len(rs) > maxTargetRunes {
		target = string(rs[:maxTargetRunes])
	}
	return fmt.Sprintf("%02d • %s • %s • %s", number, r.Timestamp, status, target)
}

// WriteHistory lists records newest first, numbered from 1.
func WriteHistory(w io.Writer, recs []run.Record) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w, "No saved scans.")
		return
	}
	for i, r := range recs {
		_, _ = fmt.Fprintln(w, EntryLabel(i+1, r))
	}
}

// Replay writes a saved run's output to out and the replay notice to info.
func Replay(out, info io.Writer, r run.Record) {
	for _, line := range r.Output {
		_, _ = fmt.Fprintln(out, line)
	}
	_, _ = fmt.Fprintf(info, "Showing saved scan: %s\n", r.Target)
}
