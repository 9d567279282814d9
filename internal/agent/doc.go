// Package agent hosts the erc20-transfer tool. For every invocation it runs
// the parameter precheck, evaluates the policies the tool declares, executes
// the transfer with the resulting policies context and finally records the
// outcome in the transfer ledger and on the event bus.
package agent
