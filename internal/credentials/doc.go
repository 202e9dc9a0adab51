// Package credentials defines the persisted vendor login record and the
// stores it can live in: a JSON file, the OS keyring or the environment.
package credentials
