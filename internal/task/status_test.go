package task

import "testing"

func TestParseStatus(t *testing.T) {
	for _, status := range AllStatuses() {
		parsed, ok := ParseStatus(string(status))
		if !ok || parsed != status {
			t.Errorf("ParseStatus(%q) = %q, %v", status, parsed, ok)
		}
	}
	if parsed, ok := ParseStatus(" Converting "); !ok || parsed != StatusConverting {
		t.Errorf("ParseStatus with padding = %q, %v", parsed, ok)
	}
	if _, ok := ParseStatus("exploded"); ok {
		t.Error("ParseStatus accepted an unknown status")
	}
	if _, ok := ParseStatus(""); ok {
		t.Error("ParseStatus accepted the empty string")
	}
}

func TestTransitionRelation(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusConverting}:   true,
		{StatusPending, StatusCancelled}:    true,
		{StatusPending, StatusFailed}:       true,
		{StatusConverting, StatusCompleted}: true,
		{StatusConverting, StatusFailed}:    true,
		{StatusConverting, StatusCancelled}: true,
	}
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for _, status := range AllStatuses() {
		if got := status.IsTerminal(); got != terminal[status] {
			t.Errorf("IsTerminal(%s) = %v", status, got)
		}
	}
}
