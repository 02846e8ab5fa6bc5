package archive

import "testing"

func TestCooldownStep(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, 5},
		{1, 5},
		{100, 5},
		{109, 5},
		{110, 6}, // 5.5 rounds up
		{120, 6},
		{200, 10},
		{1000, 50},
	}
	for _, tt := range tests {
		if got := CooldownStep(tt.total); got != tt.want {
			t.Errorf("CooldownStep(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestProgress_Advance(t *testing.T) {
	p := NewProgress(12) // step 5
	var due []int
	for i := 0; i < 12; i++ {
		if p.Advance() {
			due = append(due, p.Done)
		}
	}
	if len(due) != 2 || due[0] != 5 || due[1] != 10 {
		t.Errorf("cooldowns due after %v, want [5 10]", due)
	}
	if p.Done != 12 {
		t.Errorf("Done = %d, want 12", p.Done)
	}
}

type countingLogger struct {
	NopLogger
	debug int
}

func (l *countingLogger) Debug(string, ...any) { l.debug++ }

func TestTransferProgress(t *testing.T) {
	logger := &countingLogger{}
	p := NewTransferProgress("f.oga", 1000, logger)

	chunk := make([]byte, 50)
	for i := 0; i < 20; i++ {
		if n, err := p.Write(chunk); n != 50 || err != nil {
			t.Fatalf("Write() = %d, %v", n, err)
		}
	}

	if p.Written != 1000 {
		t.Errorf("Written = %d, want 1000", p.Written)
	}
	// The first write, then each time another tenth is crossed.
	if p.Notices != 11 {
		t.Errorf("Notices = %d, want 11", p.Notices)
	}
	if logger.debug != p.Notices {
		t.Errorf("logged %d notices, want %d", logger.debug, p.Notices)
	}
}

func TestTransferProgress_UnknownSize(t *testing.T) {
	p := NewTransferProgress("f.oga", 0, nil)
	p.Write(make([]byte, 10))
	if p.Written != 10 || p.Notices != 0 {
		t.Errorf("Written = %d, Notices = %d, want 10, 0", p.Written, p.Notices)
	}
}
