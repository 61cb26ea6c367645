package driver

// Reap exposes the timeout sweep for tests.
func Reap(d *Driver) {
	d.reap()
}
