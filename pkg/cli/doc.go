// Package cli provides the warden-cli tool for operating a warden deployment.
//
// # Overview
//
// The CLI covers the offline chores around the server: checking plan
// table files before they are deployed, inspecting the action policy
// table, generating token signing keys, and applying database migrations.
//
// # Commands
//
// plans validate: Check a plan table file
//
//	warden-cli plans validate -file ./plans.yaml
//
// plans show: Print the effective limits per plan
//
//	warden-cli plans show                              # built-in plans
//	warden-cli plans show -file ./plans.yaml -format yaml
//
// actions: Print every guarded action with its roles, resource, quota and payer
//
//	warden-cli actions
//
// keygen: Generate an RSA signing key for access tokens
//
//	warden-cli keygen -out ./signing.pem
//
// migrate: Apply pending migrations
//
//	warden-cli migrate -db-url postgres://localhost/warden?sslmode=disable
//
// The migrate command falls back to WARDEN_POSTGRES_URL when -db-url is not
// given.
package cli
