// Package httpclient provides the outbound HTTP client shared by the update
// service, error reporter, notification registrar and connectivity probe.
//
// Every client combines resty (request building), go-retryablehttp
// (transport with retries), a token-bucket limiter and a circuit breaker.
package httpclient
