package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	// maxRetries is the retry budget per path per name before failover.
	maxRetries = 5
	// sortingInterval is the number of dispatches between path re-rankings.
	sortingInterval = 100
	// windowSize bounds simultaneously outstanding requests.
	windowSize = 50

	seedByDefault = true
)

var (
	dataDir = filepath.Join(xdg.DataHome, configFileName)

	// Bootstrap forwarding paths used until better ones are learned.
	bootstrapPaths = []string{"/ucla", "/arizona"}
)
