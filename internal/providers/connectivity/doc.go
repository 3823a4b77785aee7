// Package connectivity probes network reachability for the startup
// sequence. HTTP targets receive a HEAD request; grpc:// targets are asked
// through the standard gRPC health service.
package connectivity
