// Package metrics accumulates per-run pipeline counters and renders
// them in Prometheus text exposition format, written as a .prom file
// for the node_exporter textfile collector.
//
// Every metric carries a "source" label naming the file the run
// processed, so watch mode's successive runs stay distinguishable on
// a dashboard. The file is replaced atomically; a collector scraping
// mid-write never sees a partial exposition.
package metrics
