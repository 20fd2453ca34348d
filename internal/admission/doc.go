// Package admission gates task creation on the space budget. The sequence
// is compare-and-reserve, create, and a compensating release when creation
// fails; reservations for admitted tasks are released by a registry
// terminal hook. No distributed transaction is involved.
package admission
