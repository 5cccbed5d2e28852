package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/sleepwell/internal/domain"
)

const (
	namePrefix  = "N:"
	emojiPrefix = "E:"
	separator   = "---"
)

type state int

const (
	seeking state = iota
	readingItem
)

// ParseFile reads an item-set file from the given path and extracts all items.
func ParseFile(path string) ([]domain.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all items.
// An "N:" line starts a new item, "E:" sets the face of the current one and
// "---" closes it. Any other line is ignored.
func Parse(r io.Reader) ([]domain.Item, error) {
	scanner := bufio.NewScanner(r)
	var items []domain.Item
	var current domain.Item
	currentState := seeking

	finishItem := func() {
		if current.Name != "" {
			items = append(items, current)
		}
		current = domain.Item{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")

		switch {
		case line == separator:
			finishItem()
		case strings.HasPrefix(line, namePrefix):
			if currentState != seeking { // A new name always starts a new item
				finishItem()
			}
			currentState = readingItem
			current.Name = strings.TrimSpace(line[len(namePrefix):])
		case strings.HasPrefix(line, emojiPrefix):
			if currentState == readingItem {
				current.Emoji = strings.TrimSpace(line[len(emojiPrefix):])
			}
		}
	}

	finishItem() // Finish the very last item in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
