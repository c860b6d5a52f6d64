// Package config provides configuration management for sosmon.
package config

import "time"

// Default configuration values for sosmon.
const (
	// DefaultDataDir holds the inventory, site snapshot, CSV and history.
	DefaultDataDir = "/opt/cliosoft/monitoring/data"

	// DefaultLockFile is the single-run lock.
	DefaultLockFile = "/tmp/sos_check_disks.lock"

	// DefaultThresholdGB marks a disk as low when its free space is at or below it.
	DefaultThresholdGB = 250

	// DefaultAddSizeGB is added to a low disk's size when resizing.
	DefaultAddSizeGB = 500

	// DefaultResizeLookbackDays is how far back stodstatus is asked for resizes.
	DefaultResizeLookbackDays = 2

	// DefaultInventoryMaxAge is how long the disk inventory stays fresh.
	DefaultInventoryMaxAge = 24 * time.Hour

	// DefaultMarker is appended to a disk path before canonicalization.
	DefaultMarker = "pg_data"

	// DefaultDepth is the canonicalization depth.
	DefaultDepth = 5

	// DefaultNormalizePattern matches the site-specific disk prefix.
	DefaultNormalizePattern = `^/nfs/.*/disks`

	// DefaultNormalizeReplacement is the site-neutral disk prefix.
	DefaultNormalizeReplacement = "/nfs/site/disks"

	// DefaultCliosoftDir is the SOS installation.
	DefaultCliosoftDir = "/opt/cliosoft/latest"

	// DefaultServersLink points at the servers directory in use.
	DefaultServersLink = "/opt/cliosoft/latest/SERVERS"

	// DefaultServersDir is used for primary sc hosts.
	DefaultServersDir = "/nfs/site/disks/sos_adm/share/SERVERS7"

	DefaultSosadmin   = "/opt/cliosoft/latest/bin/sosadmin"
	DefaultSosmgr     = "/opt/cliosoft/latest/bin/sosmgr"
	DefaultStod       = "/usr/intel/bin/stod"
	DefaultStodstatus = "/usr/intel/bin/stodstatus"

	DefaultCommandTimeout = 30 * time.Second
	DefaultResizeTimeout  = 40 * time.Second
	DefaultWebTimeout     = 5 * time.Second

	// DefaultSMTPAddr is the local relay.
	DefaultSMTPAddr = "localhost:25"

	// DefaultHistoryRetentionDays bounds the usage sample store.
	DefaultHistoryRetentionDays = 90

	// DefaultJournalRetentionDays bounds the run journal.
	DefaultJournalRetentionDays = 30
)
