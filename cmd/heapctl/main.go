// Command heapctl drives the pageheap allocator from the command line.
package main

func main() {
	execute()
}
