// Package api exposes the erc20-transfer tool over HTTP: parameter schema,
// precheck, execute and the transfer ledger, plus the Prometheus endpoint.
package api
