// Package metrics provides run and stage metrics for the publisher.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metric calls never need nil checks:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	publisher := pipeline.NewPublisher(cfg, pipeline.WithRecorder(recorder))
//
// PrometheusRecorder registers its collectors on the registry it is given;
// HTTPHandler exposes that registry on the daemon's /metrics endpoint.
package metrics
