package gstcam

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
)

// DefaultSysfsRoot is where the kernel lists V4L2 device nodes
const DefaultSysfsRoot = "/sys/class/video4linux"

// ListDevices reads the V4L2 device inventory from sysfs without opening
// any device.
//
// Each node gets its device path (/dev/videoN) as id and the driver-reported
// name as label. Capture nodes have index 0; higher indexes are metadata
// nodes of the same camera and are reported as KindOther.
//
// Returns dxscan.ErrEnumerationUnsupported if root does not exist.
func ListDevices(root string) ([]dxscan.DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing", dxscan.ErrEnumerationUnsupported, root)
	}
	if err != nil {
		return nil, fmt.Errorf("gstcam: read %s: %w", root, err)
	}

	type node struct {
		num  int
		info dxscan.DeviceInfo
	}
	var nodes []node
	for _, e := range entries {
		num, ok := videoNumber(e.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(root, e.Name())
		label := readAttr(dir, "name")
		if label == "" {
			label = e.Name()
		}
		kind := dxscan.KindVideoInput
		if idx := readAttr(dir, "index"); idx != "" && idx != "0" {
			kind = dxscan.KindOther
		}
		nodes = append(nodes, node{num: num, info: dxscan.DeviceInfo{
			DeviceID: "/dev/" + e.Name(),
			Kind:     kind,
			Label:    label,
		}})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].num < nodes[j].num })
	out := make([]dxscan.DeviceInfo, len(nodes))
	for i, n := range nodes {
		out[i] = n.info
	}
	return out, nil
}

func videoNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func readAttr(dir, attr string) string {
	b, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// pickFacing returns the video input whose label matches the facing hint,
// or the first video input. Empty if there are none.
func pickFacing(devices []dxscan.DeviceInfo, facingMode string) string {
	var keywords []string
	switch facingMode {
	case "environment":
		keywords = []string{"back", "rear", "environment", "world"}
	case "user":
		keywords = []string{"front", "user", "face", "integrated"}
	}

	first := ""
	for _, d := range devices {
		if d.Kind != dxscan.KindVideoInput {
			continue
		}
		if first == "" {
			first = d.DeviceID
		}
		label := strings.ToLower(d.Label)
		for _, kw := range keywords {
			if strings.Contains(label, kw) {
				return d.DeviceID
			}
		}
	}
	return first
}
