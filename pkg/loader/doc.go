/*
Package loader materializes plugin artifacts into code containers and
extracts the tasks and workflow types they register.

Archives are unpacked into unique per-load directories and their executable
modules located under the well-known lib/<framework>/ subtree. Modules load
through the Go plugin facility and announce their contents via an exported

	func RegisterPlugin(r registration.Registrar)

entry point, so discovery is a symbol lookup rather than an annotation scan.

Go cannot unmap a loaded shared object, so Unload is best-effort: it
guarantees the container's handles are never invoked again (the worker swap
enforces this) and marks the memory collectible. A content-hash cache reuses
already-mapped modules across reloads, which both satisfies the Go runtime's
refusal to open the same plugin twice and keeps repeated reloads of
unchanged modules from growing the process.

A failure loading one module skips that module; a failure describing one
task or workflow skips that handle. A load never aborts part-way because of
a single bad input.
*/
package loader
