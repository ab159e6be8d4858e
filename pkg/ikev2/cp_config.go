package ikev2

import "net"

// CPConfig 是从 CFG_REPLY 提炼出的网络配置。
type CPConfig struct {
	IPv4Addresses []net.IP
	IPv4DNS       []net.IP
	IPv4PCSCF     []net.IP

	IPv6Addresses []net.IP
	IPv6Prefix    uint8
	IPv6DNS       []net.IP
	IPv6PCSCF     []net.IP
}

// ipFromAttr 从属性值头部取出定长 IP，长度不足返回 nil (该属性被
// 静默忽略)。
func ipFromAttr(attr *CPAttribute, n int) net.IP {
	if len(attr.Value) < n {
		return nil
	}
	return net.IP(attr.Value[:n])
}

// ParseCPConfig 遍历 CP 载荷的属性提炼配置；未识别的属性类型直接
// 跳过。
func ParseCPConfig(cp *EncryptedPayloadCP) *CPConfig {
	cfg := &CPConfig{}
	for _, attr := range cp.Attributes {
		switch attr.Type {
		case INTERNAL_IP4_ADDRESS:
			if ip := ipFromAttr(attr, net.IPv4len); ip != nil {
				cfg.IPv4Addresses = append(cfg.IPv4Addresses, ip)
			}
		case INTERNAL_IP4_DNS:
			if ip := ipFromAttr(attr, net.IPv4len); ip != nil {
				cfg.IPv4DNS = append(cfg.IPv4DNS, ip)
			}
		case P_CSCF_IP4_ADDRESS:
			if ip := ipFromAttr(attr, net.IPv4len); ip != nil {
				cfg.IPv4PCSCF = append(cfg.IPv4PCSCF, ip)
			}
		case INTERNAL_IP6_ADDRESS:
			// 值为 16 字节地址，可选跟 1 字节前缀长度。
			if ip := ipFromAttr(attr, net.IPv6len); ip != nil {
				cfg.IPv6Addresses = append(cfg.IPv6Addresses, ip)
				if len(attr.Value) > net.IPv6len {
					cfg.IPv6Prefix = attr.Value[net.IPv6len]
				}
			}
		case INTERNAL_IP6_DNS:
			if ip := ipFromAttr(attr, net.IPv6len); ip != nil {
				cfg.IPv6DNS = append(cfg.IPv6DNS, ip)
			}
		case P_CSCF_IP6_ADDRESS, ASSIGNED_PCSCF_IP6_ADDRESS:
			if ip := ipFromAttr(attr, net.IPv6len); ip != nil {
				cfg.IPv6PCSCF = append(cfg.IPv6PCSCF, ip)
			}
		}
	}
	return cfg
}

// HasIPv4 报告回复中是否分配了 IPv4 地址。
func (c *CPConfig) HasIPv4() bool { return len(c.IPv4Addresses) > 0 }

// HasIPv6 报告回复中是否分配了 IPv6 地址。
func (c *CPConfig) HasIPv6() bool { return len(c.IPv6Addresses) > 0 }
