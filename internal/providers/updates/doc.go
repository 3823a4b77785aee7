/*
Package updates delivers over-the-air bundle updates.

The update server publishes a manifest per runtime version and channel:

	GET {UPDATES_URL}/manifest?runtime=1.0.0&channel=production

	{"id": "u42", "runtime_version": "1.0.0", "bundle_url": "...", "sha256": "..."}

An update is available when its runtime version matches this build and its
id differs from the running bundle. FetchUpdate downloads the archive
(tar, optionally gzip or zstd compressed), checks the SHA-256, extracts it
under BundleDir/{id} and records it as pending. Reload promotes the pending
bundle and restarts through the Reloader.
*/
package updates
