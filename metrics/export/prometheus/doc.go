// Package prometheus renders authcore engine metrics in the Prometheus
// text exposition format. It reads counter snapshots only; it performs
// no scraping, registration, or label handling of its own.
package prometheus
