/*
Package health probes task health.

Three checker types are supported: http (GET against an endpoint,
2xx/3xx passes), tcp (connect succeeds) and exec (command exits
zero). A Checker tracks consecutive failures and only flips its
verdict to unhealthy after the configured retry count, so one slow
probe does not bounce a task.
*/
package health
