/*
Package bskyclient wraps the generated atproto and Bluesky XRPC calls the bot needs: password
sessions, notifications, post threads, blob uploads, and post creation.

[Client] authenticates with an account identifier and password ([Client.Login]), and refreshes
the session once when the server reports an expired access token. Consecutive requests are spaced
by a minimum interval, and transport-level retries are left to the wrapped [http.Client] (see the
robusthttp package).

Non-2xx responses surface as [*xrpc.Error], wrapping the [*xrpc.XRPCError] sent by the server.
*/
package bskyclient
