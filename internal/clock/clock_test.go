package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
)

func TestCheckHealthyWithinThreshold(t *testing.T) {
	c := NewChecker()
	c.Query = func(pool string) (*ntp.Response, error) {
		if pool != DefaultPool {
			t.Errorf("pool = %q", pool)
		}
		return &ntp.Response{ClockOffset: 300 * time.Millisecond}, nil
	}

	skew, err := c.Check()
	if err != nil {
		t.Fatal(err)
	}
	if !skew.Healthy(c.Threshold) {
		t.Errorf("300ms offset within 2s threshold reported unhealthy: %+v", skew)
	}
}

func TestCheckSkewedPastThreshold(t *testing.T) {
	c := NewChecker()
	c.Query = func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: -5 * time.Second}, nil
	}

	skew, err := c.Check()
	if err != nil {
		t.Fatal(err)
	}
	if skew.Healthy(c.Threshold) {
		t.Errorf("-5s offset reported healthy: %+v", skew)
	}
}

func TestCheckPoolUnreachable(t *testing.T) {
	c := NewChecker()
	c.Query = func(string) (*ntp.Response, error) {
		return nil, errors.New("timeout")
	}

	if _, err := c.Check(); err == nil {
		t.Error("unreachable pool must surface as an error")
	}
}
