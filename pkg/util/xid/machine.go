package xid

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
)

var osHostname = os.Hostname

// 机器号相关环境变量
const (
	EnvMachineID = "XID_MACHINE_ID"
	EnvPodName   = "POD_NAME"
	EnvHostname  = "HOSTNAME"
)

// DefaultMachineID 按 XID_MACHINE_ID、POD_NAME、HOSTNAME、os.Hostname() 的顺序确定机器号
func DefaultMachineID() (uint16, error) {
	if s := os.Getenv(EnvMachineID); s != "" {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s value %q: %w", EnvMachineID, s, err)
		}
		return uint16(id), nil
	}
	for _, env := range []string{EnvPodName, EnvHostname} {
		if v := os.Getenv(env); v != "" {
			return hashToMachineID(v), nil
		}
	}
	hostname, err := osHostname()
	if err != nil {
		return 0, fmt.Errorf("xid: resolve machine id: %w", err)
	}
	if hostname == "" {
		return 0, errors.New("xid: resolve machine id: empty hostname")
	}
	return hashToMachineID(hostname), nil
}

// hashToMachineID 将 FNV-32a 哈希折叠为 16 位
func hashToMachineID(s string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum32()
	return uint16(sum>>16) ^ uint16(sum)
}
