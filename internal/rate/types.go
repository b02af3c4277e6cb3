package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Headers names the response headers a provider reports its limits in.
// Empty names are ignored.
type Headers struct {
	Remaining  string
	RetryAfter string
}

// StandardHeaders is the mapping most cloud APIs use.
func StandardHeaders() Headers {
	return Headers{
		Remaining:  "X-RateLimit-Remaining",
		RetryAfter: "Retry-After",
	}
}

// Declaration defines a provider's request budget.
type Declaration struct {
	provider string
	limits   map[Window]int
	headers  Headers
	cooldown time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, cooldown: DefaultCooldown}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

// CooldownOn429 sets the pause after a 429 without Retry-After.
func (d Declaration) CooldownOn429(cooldown time.Duration) Declaration {
	d.cooldown = cooldown
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}
