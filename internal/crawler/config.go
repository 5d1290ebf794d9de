package crawler

import "time"

// Config holds the crawler's fixed settings. Per-run limits arrive as a Budget.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Parallelism int
	Delay       time.Duration
	// IgnoreRobots skips robots.txt. Production config sets it because
	// publishers routinely disallow the article paths the directory needs.
	IgnoreRobots bool
	MaxPages     int
	MaxDepth     int
}

// DefaultUserAgent identifies the crawler.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PressroomBot/1.0)"

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	return c
}
