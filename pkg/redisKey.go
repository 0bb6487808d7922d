package pkg

import "fmt"

func BuildMonitorLockKey(service string) string {
	return fmt.Sprintf("TX_monitor_lock:%s", service)
}

func BuildSavepointName(seq int) string {
	return fmt.Sprintf("SAVEPOINT_%d", seq)
}
