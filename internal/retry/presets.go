package retry

import "time"

// Presets tuned per operation class. Delays grow by the multiplier up to the
// cap; jitter is on everywhere to avoid thundering herds.

// FileUpload suits slow object-store uploads.
func FileUpload() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// FileProcessing suits handler-side processing work.
func FileProcessing() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Network suits short HTTP fetches.
func Network() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	}
}

// Database suits metadata store round trips.
func Database() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// ExternalAPI suits third-party service calls.
func ExternalAPI() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1500 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}
