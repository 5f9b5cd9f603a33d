// Package artifact defines the plugin artifact value and the process-wide
// registry mapping artifact identity to its loaded container and
// registration set.
package artifact
