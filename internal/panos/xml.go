package panos

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/xml"
	"strings"
)

// node is a generic XML element. PAN-OS answers share one envelope but the
// payload shape depends on the command, so responses are walked rather than
// bound to fixed structs.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func parseResponse(b []byte) (*node, error) {
	var n node
	if err := xml.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// find returns the first descendant named name, depth first.
func (n *node) find(name string) *node {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local == name {
			return c
		}
		if f := c.find(name); f != nil {
			return f
		}
	}
	return nil
}

// findAll returns every descendant named name in document order. Matches
// are not searched for nested matches.
func (n *node) findAll(name string) []*node {
	var out []*node
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local == name {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// children returns the direct children named name.
func (n *node) children(name string) []*node {
	var out []*node
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// innerText concatenates all character data below n.
func (n *node) innerText() string {
	var b strings.Builder
	n.collect(&b)
	return strings.TrimSpace(b.String())
}

func (n *node) collect(b *strings.Builder) {
	if t := strings.TrimSpace(n.Text); t != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	for i := range n.Nodes {
		n.Nodes[i].collect(b)
	}
}

// childText returns the trimmed text of the first descendant named name.
func (n *node) childText(name string) string {
	if c := n.find(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

func (n *node) ok() bool { return n.attr("status") == "success" }

// message extracts the error text of a failed response.
func (n *node) message() string {
	if m := n.find("msg"); m != nil {
		if t := m.innerText(); t != "" {
			return t
		}
	}
	return "Unknown error"
}

// toRecord flattens a log entry into field name to text.
func (n *node) toRecord() map[string]string {
	rec := make(map[string]string, len(n.Nodes))
	for i := range n.Nodes {
		c := &n.Nodes[i]
		rec[c.XMLName.Local] = strings.TrimSpace(c.Text)
	}
	return rec
}

// memberList renders the <list> element written into a custom URL category.
func memberList(members []string) (string, error) {
	type list struct {
		XMLName xml.Name `xml:"list"`
		Members []string `xml:"member"`
	}
	b, err := xml.Marshal(list{Members: members})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
