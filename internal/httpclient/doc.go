// Package httpclient executes single HTTP requests for endpoint descriptors.
//
// An [Executor] owns the shared [net/http.Client] and the optional base URL.
// [Executor.Prepare] resolves a descriptor once into a [Target]: the absolute
// URL, canonical headers and a [BodySource] that yields a fresh body for every
// request. Problems found while preparing are returned together as an
// [endpoint.InvalidDescriptorError].
//
//	exec, err := httpclient.NewExecutor(httpclient.NewClient(30*time.Second, 64), httpclient.Options{
//		BaseURL: "https://api.example.com",
//	})
//	if err != nil {
//		return err
//	}
//	target, err := exec.Prepare(desc)
//	if err != nil {
//		return err
//	}
//	observed := target.Execute(ctx)
//
// # Execution
//
// [Target.Execute] sends exactly one request and never retries. Transport
// failures are reported in [check.Observed.Err] with a zero status so callers
// can record them like any other outcome. The response body is only read when
// the descriptor's expected outcome inspects it.
//
// # HTTP Client
//
// [NewClient] builds a client tuned for load generation: keep-alives, a large
// idle pool sized to the number of workers, and an overall request timeout.
package httpclient
