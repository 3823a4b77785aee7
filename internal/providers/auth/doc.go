/*
Package auth is the launcher's local identity provider.

Accounts carry bcrypt password hashes; the device holds at most one session.
Both are persisted to a JSON file. Start restores the session in the
background and then notifies every listener registered with OnStateChange,
which is how the startup sequence learns whether to open Login or MainApp.
Listeners registered after that are called immediately with the current
state.
*/
package auth
